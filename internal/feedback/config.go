package feedback

import (
	"vastfeedback/internal/erp"
)

type Config struct {
	// Model is the portal model holding one feedback form per (student, faculty, course).
	Model string `json:"model"`
	Lang  string `json:"lang"`
	Tz    string `json:"tz"`
	// PageLimit bounds the pending records listed in one run.
	PageLimit int `json:"page_limit"`
	// StrictBatch makes an account with more than one batch a fatal fault
	// instead of using the first batch.
	StrictBatch bool `json:"strict_batch"`
}

func DefaultConfig() Config {
	return Config{
		Model:     "vict.feedback.student.batch.feedback",
		Lang:      "en_GB",
		Tz:        "Asia/Kolkata",
		PageLimit: 80,
	}
}

// topLevelContext is the context sent at the top level of every dataset call.
func (c Config) topLevelContext(uid int64) erp.Context {
	return erp.Context{
		"lang": c.Lang,
		"tz":   c.Tz,
		"uid":  uid,
	}
}

// kwargsContext is the context sent inside kwargs, it carries the search
// defaults of the portal's feedback list view.
func (c Config) kwargsContext(uid int64) erp.Context {
	ctx := c.topLevelContext(uid)
	ctx["search_default_group_feedback_id"] = 1
	ctx["search_default_group_batch"] = 1
	ctx["search_default_group_semester"] = 1
	return ctx
}
