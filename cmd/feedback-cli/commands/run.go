package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"vastfeedback/internal/events"
	"vastfeedback/internal/feedback"
	"vastfeedback/internal/server"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	rating    int
	custom    bool
	serverUrl string
)

func init() {
	runCmd.Flags().IntVar(&rating, "rating", feedback.DefaultRating, "Rating applied to every form (1 = Excellent ... 5 = Poor).")
	runCmd.Flags().BoolVar(&custom, "custom", false, "Prompt for a rating per faculty instead of using --rating.")
	runCmd.Flags().StringVar(&serverUrl, "server", "", "Base url of a feedback server, the run happens in-process when empty.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:          "run [username]",
	Short:        "Logs in and submits every pending feedback form of the account.",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var r runner
		if serverUrl != "" {
			r = newRemoteRunner(serverUrl)
		} else {
			local, err := newLocalRunner()
			if err != nil {
				return err
			}
			r = local
		}

		in := bufio.NewReader(os.Stdin)

		fmt.Println("Welcome to the VAST ERP Feedback Automator")
		fmt.Println("---")

		username := ""
		if len(args) > 0 {
			username = args[0]
		} else {
			var err error
			username, err = promptLine(in, "Enter your username: ")
			if err != nil {
				return err
			}
		}
		password, err := promptPassword(in, "Enter your password: ")
		if err != nil {
			return err
		}

		body := server.AutomateRequest{
			Username:     username,
			Password:     password,
			FeedbackMode: feedback.ModeSetAll,
			Rating:       &rating,
		}
		if custom {
			body.FeedbackMode = feedback.ModeCustom
			body.Rating = nil
		}

		p := &printer{out: os.Stdout}
		err = r.Run(cmd.Context(), body, p.handle)
		if err != nil {
			return err
		}

		if p.faculties != nil {
			ratings, err := promptRatings(in, p.faculties)
			if err != nil {
				return err
			}
			body.FacultyRatings = ratings

			p = &printer{out: os.Stdout}
			err = r.Run(cmd.Context(), body, p.handle)
			if err != nil {
				return err
			}
		}

		if p.err != "" {
			return errors.New(p.err)
		}
		return nil
	},
}

// printer renders the events of a run as console output.
type printer struct {
	out       io.Writer
	faculties []events.Faculty
	err       string
}

func (p *printer) handle(e events.Event) {
	switch e := e.(type) {
	case events.Status:
		switch {
		case e.Step == events.StepLogin:
			fmt.Fprintln(p.out, e.Message)
		case e.Step == events.StepSubmit && e.Total != nil && e.Completed != nil && *e.Total > 0:
			fmt.Fprintf(p.out, "   [%d/%d] %d%%\n", *e.Completed, *e.Total, *e.Progress)
		}
	case events.Log:
		fmt.Fprintln(p.out, e.Message)
	case events.NeedRatings:
		p.faculties = e.Faculties
	case events.Done:
		fmt.Fprintln(p.out, "---")
		if e.Failed > 0 {
			fmt.Fprintf(p.out, "Finished, %d form(s) could not be submitted.\n", e.Failed)
			return
		}
		fmt.Fprintln(p.out, "Finished.")
	case events.Error:
		p.err = e.Message
	}
}

func promptLine(in *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(in *bufio.Reader, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(in, prompt)
	}
	fmt.Print(prompt)
	password, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// parseRating reads a rating answer, an empty answer is the default rating.
func parseRating(answer string) (int, error) {
	if answer == "" {
		return feedback.DefaultRating, nil
	}
	value, err := strconv.Atoi(answer)
	if err != nil || value < feedback.MinRating || value > feedback.MaxRating {
		return 0, feedback.ErrInvalidRating
	}
	return value, nil
}

func promptRatings(in *bufio.Reader, faculties []events.Faculty) (map[int64]int, error) {
	t := newTable()
	t.AppendHeader(table.Row{"#", "Faculty", "Course"})
	for i, f := range faculties {
		t.AppendRow(table.Row{i + 1, f.Name, f.Course})
	}
	t.Render()

	scale := newTable()
	scale.AppendHeader(table.Row{"Rating", "Meaning"})
	for v := feedback.MinRating; v <= feedback.MaxRating; v++ {
		scale.AppendRow(table.Row{v, feedback.RatingLabel(v)})
	}
	scale.Render()

	ratings := make(map[int64]int, len(faculties))
	for i, f := range faculties {
		for {
			answer, err := promptLine(in, fmt.Sprintf("Rating for %d. %s (%s) [%d]: ", i+1, f.Name, f.Course, feedback.DefaultRating))
			if err != nil {
				return nil, err
			}
			value, err := parseRating(answer)
			if err != nil {
				fmt.Println(err.Error())
				continue
			}
			ratings[f.Id] = value
			break
		}
	}
	return ratings, nil
}
