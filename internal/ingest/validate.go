package ingest

import (
	"fmt"
	"regexp"
	"strconv"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation problem located by row and column.
type Issue struct {
	Row      int // 1-based; 0 when not row-specific
	Column   string
	Message  string
	Severity Severity
}

func (i Issue) String() string {
	loc := ""
	if i.Row > 0 {
		loc = fmt.Sprintf("row %d", i.Row)
	}
	if i.Column != "" {
		if loc != "" {
			loc += fmt.Sprintf(", column '%s'", i.Column)
		} else {
			loc = fmt.Sprintf("column '%s'", i.Column)
		}
	}
	if loc != "" {
		return fmt.Sprintf("[%s] %s: %s", i.Severity, loc, i.Message)
	}
	return fmt.Sprintf("[%s] %s", i.Severity, i.Message)
}

// Result aggregates validation issues for a dataset.
type Result struct {
	Issues []Issue
}

func (r Result) Errors() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}

func (r Result) Warnings() []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == SeverityWarning {
			out = append(out, i)
		}
	}
	return out
}

func (r Result) IsValid() bool {
	return len(r.Errors()) == 0
}

// Rule declares the constraints for one column. Zero-valued fields are not
// checked.
type Rule struct {
	Column   string
	Required bool
	Type     string // "string", "int", "float", "bool"
	Min      *float64
	Max      *float64
	Pattern  string
	Allowed  []string
	Check    func(value interface{}) error
	Severity Severity // defaults to error
}

func (r Rule) severity() Severity {
	if r.Severity == "" {
		return SeverityError
	}
	return r.Severity
}

// Validate applies rules to every record and returns all issues found; it
// never stops at the first problem.
func Validate(records []map[string]interface{}, rules []Rule) (Result, error) {
	compiled := make(map[string]*regexp.Regexp)
	for _, rule := range rules {
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return Result{}, fmt.Errorf("invalid pattern for column '%s': %w", rule.Column, err)
			}
			compiled[rule.Column] = re
		}
	}

	var result Result
	for idx, record := range records {
		row := idx + 1
		for _, rule := range rules {
			value, present := record[rule.Column]
			if !present || value == nil || value == "" {
				if rule.Required {
					result.Issues = append(result.Issues, Issue{
						Row: row, Column: rule.Column,
						Message:  "required value is missing",
						Severity: rule.severity(),
					})
				}
				continue
			}
			result.Issues = append(result.Issues, checkValue(row, rule, value, compiled[rule.Column])...)
		}
	}
	return result, nil
}

func checkValue(row int, rule Rule, value interface{}, re *regexp.Regexp) []Issue {
	var issues []Issue
	fail := func(msg string) {
		issues = append(issues, Issue{Row: row, Column: rule.Column, Message: msg, Severity: rule.severity()})
	}

	num, isNum := toFloat(value)

	if rule.Type != "" {
		if !typeMatches(rule.Type, value) {
			fail(fmt.Sprintf("expected %s, got %T (%v)", rule.Type, value, value))
		}
	}
	if rule.Min != nil {
		if !isNum {
			fail("min check on non-numeric value")
		} else if num < *rule.Min {
			fail(fmt.Sprintf("value %v is below minimum %v", value, *rule.Min))
		}
	}
	if rule.Max != nil {
		if !isNum {
			fail("max check on non-numeric value")
		} else if num > *rule.Max {
			fail(fmt.Sprintf("value %v is above maximum %v", value, *rule.Max))
		}
	}
	if re != nil {
		s := fmt.Sprint(value)
		if !re.MatchString(s) {
			fail(fmt.Sprintf("value %q does not match pattern %q", s, rule.Pattern))
		}
	}
	if len(rule.Allowed) > 0 {
		s := fmt.Sprint(value)
		ok := false
		for _, a := range rule.Allowed {
			if s == a {
				ok = true
				break
			}
		}
		if !ok {
			fail(fmt.Sprintf("value %q is not in the allowed set", s))
		}
	}
	if rule.Check != nil {
		if err := rule.Check(value); err != nil {
			fail(err.Error())
		}
	}
	return issues
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func typeMatches(t string, value interface{}) bool {
	switch t {
	case "string":
		_, ok := value.(string)
		return ok
	case "int":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		case string:
			_, err := strconv.ParseInt(v, 10, 64)
			return err == nil
		}
		return false
	case "float":
		_, ok := toFloat(value)
		return ok
	case "bool":
		switch v := value.(type) {
		case bool:
			return true
		case string:
			_, err := strconv.ParseBool(v)
			return err == nil
		}
		return false
	default:
		return true
	}
}
