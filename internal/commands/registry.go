// Package commands declares the slash commands the bot exposes and validates
// raw invocation parameters into job requests.
package commands

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/aristath/stockbot/internal/classify"
	"github.com/aristath/stockbot/internal/jobs"
)

// ParamType is the declared type of a command parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeBool   ParamType = "bool"
	// TypeSymbol is a string that must match the stock code pattern.
	TypeSymbol ParamType = "symbol"
)

// Field is the job request field a parameter populates.
type Field int

const (
	FieldNone Field = iota
	FieldSymbol
	FieldFullReport
)

// Param declares one command parameter.
type Param struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Default     any       `json:"default,omitempty"`
	Bind        Field     `json:"-"`
}

// Descriptor declares one command. Exactly one of Job and Reply is set.
type Descriptor struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Params      []Param   `json:"params"`
	Job         jobs.Kind `json:"job,omitempty"`
	Reply       string    `json:"-"`
}

func (d *Descriptor) clone() *Descriptor {
	cp := *d
	cp.Params = append([]Param(nil), d.Params...)
	return &cp
}

// Static reports whether the command answers with fixed text instead of a job.
func (d *Descriptor) Static() bool {
	return d.Job == ""
}

// Invocation is a validated command call.
type Invocation struct {
	Command *Descriptor
	Params  map[string]any // coerced, defaults applied
	Request jobs.Request   // zero for static commands
}

// Registry holds command descriptors. It is written during startup and read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Descriptor
	order    []string
	symbol   *regexp.Regexp
}

// NewRegistry creates an empty registry that checks symbols against pattern.
func NewRegistry(pattern string) (*Registry, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid stock symbol pattern: %w", err)
	}
	return &Registry{
		commands: make(map[string]*Descriptor),
		symbol:   re,
	}, nil
}

// Register adds a descriptor. Registering a name twice fails with DuplicateCommand.
func (r *Registry) Register(d Descriptor) error {
	if err := checkDescriptor(&d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[d.Name]; exists {
		return &classify.ValidationError{
			Code:    classify.CodeDuplicateCommand,
			Message: fmt.Sprintf("command %q is already registered", d.Name),
		}
	}
	d.Params = append([]Param(nil), d.Params...)
	r.commands[d.Name] = &d
	r.order = append(r.order, d.Name)
	return nil
}

func checkDescriptor(d *Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("command name is required")
	}
	if (d.Job == "") == (d.Reply == "") {
		return fmt.Errorf("command %q must have exactly one of a job or a static reply", d.Name)
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if seen[p.Name] {
			return fmt.Errorf("command %q declares parameter %q twice", d.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeString, TypeSymbol, TypeBool:
		default:
			return fmt.Errorf("command %q parameter %q has unknown type %q", d.Name, p.Name, p.Type)
		}
		if p.Default != nil {
			if _, err := coerce(p, p.Default); err != nil {
				return fmt.Errorf("command %q parameter %q default: %w", d.Name, p.Name, err)
			}
		}
	}
	return nil
}

// Get returns a copy of the named descriptor.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.commands[name]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.commands[name].clone())
	}
	return out
}

// Validate checks raw parameters against the named command. It has no side effects.
func (r *Registry) Validate(name string, raw map[string]any) (*Invocation, error) {
	d, ok := r.Get(name)
	if !ok {
		return nil, &classify.ValidationError{
			Code:    classify.CodeUnknownCommand,
			Message: fmt.Sprintf("未知命令：%s", name),
		}
	}

	params := make(map[string]any, len(d.Params))
	for _, p := range d.Params {
		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, &classify.ValidationError{
					Code:    classify.CodeMissingParameter,
					Param:   p.Name,
					Message: fmt.Sprintf("缺少必填参数 %s", p.Name),
				}
			}
			if p.Default != nil {
				params[p.Name], _ = coerce(p, p.Default)
			}
			continue
		}

		cv, err := coerce(p, v)
		if err != nil {
			return nil, &classify.ValidationError{
				Code:    classify.CodeTypeMismatch,
				Param:   p.Name,
				Message: err.Error(),
			}
		}
		if p.Type == TypeSymbol {
			if err := r.checkSymbol(cv.(string)); err != nil {
				return nil, err
			}
		}
		params[p.Name] = cv
	}

	inv := &Invocation{Command: d, Params: params}
	if !d.Static() {
		inv.Request = buildRequest(d, params)
	}
	return inv, nil
}

func (r *Registry) checkSymbol(s string) error {
	if s == "" || !r.symbol.MatchString(s) {
		return &classify.ValidationError{
			Code:    classify.CodeInvalidSymbol,
			Param:   "stock_code",
			Message: fmt.Sprintf("股票代码格式不正确：%q", s),
		}
	}
	return nil
}

func buildRequest(d *Descriptor, params map[string]any) jobs.Request {
	req := jobs.Request{Kind: d.Job}
	for _, p := range d.Params {
		v, ok := params[p.Name]
		if !ok {
			continue
		}
		switch p.Bind {
		case FieldSymbol:
			req.Symbol = v.(string)
		case FieldFullReport:
			req.FullReport = v.(bool)
		}
	}
	return req
}

// coerce converts a raw platform value to the parameter's declared type.
// Symbols are returned exactly as given.
func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case TypeString, TypeSymbol:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("参数 %s 应为字符串", p.Name)
		}
		return s, nil
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("参数 %s 应为布尔值，收到 %q", p.Name, b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("参数 %s 应为布尔值", p.Name)
	}
	return nil, fmt.Errorf("unknown parameter type %q", p.Type)
}
