package assert

import "fmt"

// NotNil panics if value is nil, name (optional) identifies the value in the panic message.
func NotNil(value any, name ...string) {
	if value == nil {
		panic(message("expected value to be not nil", name))
	}
}

// NotEmptyStr panics if str is empty.
func NotEmptyStr(str string, name ...string) {
	if str == "" {
		panic(message("expected string to be non-empty", name))
	}
}

func message(base string, name []string) string {
	if len(name) == 0 {
		return base
	}
	return fmt.Sprintf("%s: %s", base, name[0])
}
