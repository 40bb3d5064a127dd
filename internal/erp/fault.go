package erp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// RemoteFault is an application-level error returned by the portal inside a
// well-formed JSON-RPC response.
type RemoteFault struct {
	Code    int
	Message string
	// Data is the raw fault detail (exception type, debug traceback), kept for diagnostics.
	Data json.RawMessage
}

func (f *RemoteFault) Error() string {
	return f.Message
}

// TransportFault is a failure to reach the portal or to understand its response.
type TransportFault struct {
	Path string
	// Status is the HTTP status code, 0 if no response was received.
	Status int
	Err    error
}

func (f *TransportFault) Error() string {
	if f.Status == 0 {
		return fmt.Sprintf("request %s: %s", f.Path, f.Err.Error())
	}
	return fmt.Sprintf("request %s (status %d): %s", f.Path, f.Status, f.Err.Error())
}

func (f *TransportFault) Unwrap() error {
	return f.Err
}

const maxBodyExcerpt = 120

// describeBody summarizes a response body that is not a JSON-RPC envelope, when the
// portal (or a proxy in front of it) answers with an HTML error page its title is used.
func describeBody(res *resty.Response) string {
	body := res.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return "empty body"
	}

	if strings.Contains(res.Header().Get("content-type"), "html") || bytes.HasPrefix(bytes.TrimSpace(body), []byte("<")) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err == nil {
			title := strings.TrimSpace(doc.Find("title").First().Text())
			if title != "" {
				return fmt.Sprintf("html page %q", title)
			}
		}
	}

	excerpt := string(body)
	if len(excerpt) > maxBodyExcerpt {
		excerpt = excerpt[:maxBodyExcerpt] + "..."
	}
	return fmt.Sprintf("%q", excerpt)
}
