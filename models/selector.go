package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStrategy is returned when a lookup strategy name is not recognized.
var ErrUnknownStrategy = errors.New("unknown selector strategy")

// Strategy is the lookup method used to resolve a Selector.
type Strategy string

const (
	StrategyID        Strategy = "id"
	StrategyClassName Strategy = "class_name"
	StrategyCSSPath   Strategy = "css_path"
	StrategyName      Strategy = "name"
	StrategyXPath     Strategy = "xpath"
)

// ParseStrategy accepts the canonical names as well as the selenium "By"
// spellings (ID, CLASS_NAME, css selector, ...).
func ParseStrategy(s string) (Strategy, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch norm {
	case "id":
		return StrategyID, nil
	case "class_name", "class", "classname":
		return StrategyClassName, nil
	case "css_path", "css", "css_selector", "selector":
		return StrategyCSSPath, nil
	case "name":
		return StrategyName, nil
	case "xpath":
		return StrategyXPath, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Selector identifies zero or more page elements. It is a plain value:
// two selectors are equal iff strategy and value match.
type Selector struct {
	Strategy Strategy `json:"strategy" toml:"strategy"`
	Value    string   `json:"value" toml:"value"`
}

// NewSelector validates the strategy and returns the selector.
func NewSelector(strategy, value string) (Selector, error) {
	st, err := ParseStrategy(strategy)
	if err != nil {
		return Selector{}, err
	}
	if value == "" {
		return Selector{}, fmt.Errorf("empty selector value for strategy %s", st)
	}
	return Selector{Strategy: st, Value: value}, nil
}

func ByID(id string) Selector          { return Selector{Strategy: StrategyID, Value: id} }
func ByClassName(class string) Selector { return Selector{Strategy: StrategyClassName, Value: class} }
func ByCSS(path string) Selector        { return Selector{Strategy: StrategyCSSPath, Value: path} }
func ByName(name string) Selector       { return Selector{Strategy: StrategyName, Value: name} }
func ByXPath(expr string) Selector      { return Selector{Strategy: StrategyXPath, Value: expr} }

// IsXPath reports whether the selector must be resolved as an XPath expression.
func (s Selector) IsXPath() bool {
	return s.Strategy == StrategyXPath
}

// CSS renders every non-XPath strategy as a CSS selector.
func (s Selector) CSS() string {
	switch s.Strategy {
	case StrategyID:
		return fmt.Sprintf("[id=%s]", quoteCSS(s.Value))
	case StrategyClassName:
		return fmt.Sprintf("[class~=%s]", quoteCSS(s.Value))
	case StrategyName:
		return fmt.Sprintf("[name=%s]", quoteCSS(s.Value))
	default:
		return s.Value
	}
}

func (s Selector) String() string {
	return string(s.Strategy) + "=" + s.Value
}

// quoteCSS produces a double-quoted CSS string literal.
func quoteCSS(v string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range v {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\a `)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
