// Package rack is an in-process state owner: a set of instruments, each holding a nested
// parameter tree, plus the cross-instrument patch set. It carries no audio engine.
package rack

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/patchroom/internal/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const crossPatchesKey = "crossPatches"

var ErrUnknownInstrument = errors.New("unknown instrument")

// Instrument is one instrument's parameter tree and playback flags.
type Instrument struct {
	ID      string
	Outputs []string
	Inputs  []string

	state    map[string]any
	note     int
	sounding bool
}

// Rack implements core.StateOwner.
type Rack struct {
	mu          sync.Mutex
	instruments map[string]*Instrument
	order       []string
	patches     []domain.CrossLink

	onParamChange func(instrument, path string, value any)
}

func New() *Rack {
	return &Rack{instruments: make(map[string]*Instrument)}
}

// Register adds an instrument. defaults is deep-copied. Empty outputs or inputs accept any patch id.
func (r *Rack) Register(id string, defaults map[string]any, outputs, inputs []string) error {
	state, err := deepCopy(defaults)
	if err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instruments[id]; !ok {
		r.order = append(r.order, id)
	}
	r.instruments[id] = &Instrument{ID: id, Outputs: outputs, Inputs: inputs, state: state, note: -1}
	return nil
}

// OnParamChange sets the hook fired by SetParam. Remote applications never fire it.
func (r *Rack) OnParamChange(fn func(instrument, path string, value any)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onParamChange = fn
}

// SetParam is a local edit: it updates state and notifies the hook.
func (r *Rack) SetParam(instrument, path string, value any) error {
	r.mu.Lock()
	if err := r.applyParamLocked(instrument, path, value); err != nil {
		r.mu.Unlock()
		return err
	}
	hook := r.onParamChange
	r.mu.Unlock()
	if hook != nil {
		hook(instrument, path, value)
	}
	return nil
}

func (r *Rack) ApplyParam(instrument, path string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyParamLocked(instrument, path, value)
}

func (r *Rack) applyParamLocked(instrument, path string, value any) error {
	inst, ok := r.instruments[instrument]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	if err := setPath(inst.state, path, value); err != nil {
		return err
	}
	if path == "seq.running" && !truthy(value) {
		inst.sounding = false
	}
	return nil
}

func (r *Rack) Param(instrument, path string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instruments[instrument]
	if !ok {
		return nil, false
	}
	return getPath(inst.state, path)
}

func (r *Rack) GetFullState() (domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	full := make(map[string]any, len(r.instruments)+1)
	for id, inst := range r.instruments {
		full[id] = inst.state
	}
	patches := make([]domain.CrossLink, len(r.patches))
	copy(patches, r.patches)
	full[crossPatchesKey] = patches
	data, err := json.Marshal(full)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return domain.Snapshot(data), nil
}

// ApplyFullState overwrites every registered instrument present in the snapshot and
// replaces the patch set when the snapshot carries one. Unknown instruments are ignored.
func (r *Rack) ApplyFullState(snap domain.Snapshot) error {
	var full map[string]json.RawMessage
	if err := json.Unmarshal(snap, &full); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, inst := range r.instruments {
		raw, ok := full[id]
		if !ok {
			continue
		}
		var state map[string]any
		if err := json.Unmarshal(raw, &state); err != nil {
			return fmt.Errorf("decode %s state: %w", id, err)
		}
		if state == nil {
			state = map[string]any{}
		}
		inst.state = state
		if running, ok := getPath(state, "seq.running"); ok && !truthy(running) {
			inst.sounding = false
		}
	}
	if raw, ok := full[crossPatchesKey]; ok {
		var links []domain.CrossLink
		if err := json.Unmarshal(raw, &links); err != nil {
			return fmt.Errorf("decode cross patches: %w", err)
		}
		r.patches = r.patches[:0]
		for _, l := range links {
			if !r.addCrossPatchLocked(l) {
				log.Debug().Str("module", "app.rack").Interface("link", l).Msg("snapshot patch skipped")
			}
		}
	}
	return nil
}

func (r *Rack) TriggerNote(instrument string, note int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instruments[instrument]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	inst.note = note
	inst.sounding = true
	return nil
}

func (r *Rack) ReleaseNote(instrument string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instruments[instrument]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, instrument)
	}
	inst.sounding = false
	return nil
}

// Note reports the last triggered note and whether it is still sounding.
func (r *Rack) Note(instrument string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instruments[instrument]
	if !ok {
		return -1, false
	}
	return inst.note, inst.sounding
}

func (r *Rack) StartSequencer(instrument string) error {
	return r.ApplyParam(instrument, "seq.running", true)
}

func (r *Rack) StopSequencer(instrument string) error {
	return r.ApplyParam(instrument, "seq.running", false)
}

func (r *Rack) AddCrossPatch(l domain.CrossLink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addCrossPatchLocked(l)
}

func (r *Rack) addCrossPatchLocked(l domain.CrossLink) bool {
	src, ok := r.instruments[l.SourceInst]
	if !ok {
		return false
	}
	dst, ok := r.instruments[l.DestInst]
	if !ok {
		return false
	}
	if !accepts(src.Outputs, l.SourceID) || !accepts(dst.Inputs, l.DestID) {
		return false
	}
	if slices.Contains(r.patches, l) {
		return false
	}
	r.patches = append(r.patches, l)
	return true
}

func (r *Rack) RemoveCrossPatch(l domain.CrossLink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.Index(r.patches, l)
	if idx < 0 {
		return false
	}
	r.patches = slices.Delete(r.patches, idx, idx+1)
	return true
}

func (r *Rack) Patches() []domain.CrossLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.patches)
}

func (r *Rack) Instruments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

func accepts(ids []string, id string) bool {
	if id == "" {
		return false
	}
	return len(ids) == 0 || slices.Contains(ids, id)
}

func deepCopy(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
