package work

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/flowwork"
)

// registry maps stable names to the concrete types stored in a tree.
var registry = struct {
	sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}{
	byName: make(map[string]reflect.Type),
	byType: make(map[reflect.Type]string),
}

func init() {
	Register("flowwork.result", Result{})
	Register("flowwork.sequence", &Sequence{})
	Register("flowwork.scatter", &Scatter{})
}

// Register records the concrete type of v under name so trees holding it
// can be decoded. Register pointer values for units with pointer
// receivers. It panics if name or type is already registered to something
// else.
func Register(name string, v any) {
	if name == "" || v == nil {
		panic("work: Register requires a name and a value")
	}
	t := reflect.TypeOf(v)

	registry.Lock()
	defer registry.Unlock()

	if prev, ok := registry.byName[name]; ok && prev != t {
		panic(fmt.Sprintf("work: name %q already registered for %s", name, prev))
	}
	if prev, ok := registry.byType[t]; ok && prev != name {
		panic(fmt.Sprintf("work: type %s already registered as %q", t, prev))
	}
	registry.byName[name] = t
	registry.byType[t] = name
}

// Marshal encodes a step tree.
func Marshal(s *Step) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal step tree: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a step tree produced by Marshal.
func Unmarshal(data []byte) (*Step, error) {
	var s Step
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal step tree: %w", err)
	}
	return &s, nil
}

type envelope struct {
	Type  string          `json:"type,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Self  bool            `json:"self,omitempty"`
}

func encodeValue(v any) (*envelope, error) {
	if v == nil {
		return nil, nil //nolint:nilnil // absent value
	}
	t := reflect.TypeOf(v)
	registry.RLock()
	name, ok := registry.byType[t]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", flowwork.ErrUnknownType, t)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return &envelope{Type: name, Value: raw}, nil
}

func decodeValue(env *envelope) (any, error) {
	registry.RLock()
	t, ok := registry.byName[env.Type]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", flowwork.ErrUnknownType, env.Type)
	}

	var ptr reflect.Value
	if t.Kind() == reflect.Pointer {
		ptr = reflect.New(t.Elem())
	} else {
		ptr = reflect.New(t)
	}
	if len(env.Value) > 0 {
		if err := json.Unmarshal(env.Value, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	if t.Kind() == reflect.Pointer {
		return ptr.Interface(), nil
	}
	return ptr.Elem().Interface(), nil
}

// sameRef reports whether a and b are the same pointer.
func sameRef(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != reflect.Pointer || vb.Kind() != reflect.Pointer {
		return false
	}
	return va.Type() == vb.Type() && va.Pointer() == vb.Pointer()
}

type stepJSON struct {
	Unit          *envelope     `json:"unit"`
	Outcome       *envelope     `json:"outcome,omitempty"`
	Status        Status        `json:"status"`
	Description   string        `json:"description,omitempty"`
	IgnoreFailure bool          `json:"ignore_failure,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	TimedOut      bool          `json:"timed_out,omitempty"`
	AbortTrusted  bool          `json:"abort_trusted,omitempty"`
	Finished      bool          `json:"finished,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	ChildCommands []string      `json:"child_commands,omitempty"`
	Entities      []EntityRef   `json:"entities,omitempty"`
}

func (s *Step) MarshalJSON() ([]byte, error) {
	unit, err := encodeValue(s.unit)
	if err != nil {
		return nil, err
	}
	v := stepJSON{
		Unit:          unit,
		Status:        s.status,
		Description:   s.description,
		IgnoreFailure: s.ignoreFailure,
		Timeout:       s.timeout,
		TimedOut:      s.timedOut,
		AbortTrusted:  s.abortTrusted,
		Finished:      s.finished,
		StartedAt:     timePtr(s.startedAt),
		EndedAt:       timePtr(s.endedAt),
		ChildCommands: s.childCommands,
		Entities:      s.entities,
	}
	switch {
	case s.outcome == nil:
	case sameRef(s.outcome, s.unit):
		v.Outcome = &envelope{Self: true}
	default:
		if v.Outcome, err = encodeValue(s.outcome); err != nil {
			return nil, err
		}
	}
	return json.Marshal(v)
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var v stepJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Unit == nil {
		return fmt.Errorf("decode step: missing unit")
	}
	decoded, err := decodeValue(v.Unit)
	if err != nil {
		return err
	}
	unit, ok := decoded.(Unit)
	if !ok {
		return fmt.Errorf("decode step: %s is not a Unit", v.Unit.Type)
	}

	*s = Step{
		unit:          unit,
		status:        v.Status,
		description:   v.Description,
		ignoreFailure: v.IgnoreFailure,
		timeout:       v.Timeout,
		timedOut:      v.TimedOut,
		abortTrusted:  v.AbortTrusted,
		finished:      v.Finished,
		childCommands: v.ChildCommands,
		entities:      v.Entities,
	}
	if s.status == "" {
		s.status = StatusNotStarted
	}
	if v.StartedAt != nil {
		s.startedAt = *v.StartedAt
	}
	if v.EndedAt != nil {
		s.endedAt = *v.EndedAt
	}

	switch {
	case v.Outcome == nil:
	case v.Outcome.Self:
		out, ok := unit.(Outcome)
		if !ok {
			return fmt.Errorf("decode step: %s is not an Outcome", v.Unit.Type)
		}
		s.outcome = out
	default:
		decoded, err := decodeValue(v.Outcome)
		if err != nil {
			return err
		}
		out, ok := decoded.(Outcome)
		if !ok {
			return fmt.Errorf("decode step: %s is not an Outcome", v.Outcome.Type)
		}
		s.outcome = out
	}
	return nil
}

type sequenceJSON struct {
	Steps    []*Step   `json:"steps"`
	Finally  *Step     `json:"finally,omitempty"`
	Callback *envelope `json:"callback,omitempty"`
	Cursor   int       `json:"cursor"`
	Aborting bool      `json:"aborting,omitempty"`
}

func (q *Sequence) MarshalJSON() ([]byte, error) {
	cb, err := encodeValue(q.callback)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sequenceJSON{Steps: q.steps, Finally: q.finally, Callback: cb, Cursor: q.cursor, Aborting: q.aborting})
}

func (q *Sequence) UnmarshalJSON(data []byte) error {
	v := sequenceJSON{Cursor: notRun}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*q = Sequence{steps: v.Steps, finally: v.Finally, cursor: v.Cursor, aborting: v.Aborting}
	if v.Callback != nil {
		decoded, err := decodeValue(v.Callback)
		if err != nil {
			return err
		}
		cb, ok := decoded.(Callback)
		if !ok {
			return fmt.Errorf("decode sequence: %s is not a Callback", v.Callback.Type)
		}
		q.callback = cb
	}
	return nil
}

type scatterJSON struct {
	Steps       []*Step `json:"steps"`
	BatchCommit bool    `json:"batch_commit,omitempty"`
	SharedCache bool    `json:"shared_cache,omitempty"`
	Aborted     bool    `json:"aborted,omitempty"`
}

func (g *Scatter) MarshalJSON() ([]byte, error) {
	return json.Marshal(scatterJSON{
		Steps:       g.steps,
		BatchCommit: g.batchCommit,
		SharedCache: g.sharedCache,
		Aborted:     g.aborted,
	})
}

func (g *Scatter) UnmarshalJSON(data []byte) error {
	var v scatterJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*g = Scatter{steps: v.Steps, batchCommit: v.BatchCommit, sharedCache: v.SharedCache, aborted: v.Aborted}
	return nil
}
