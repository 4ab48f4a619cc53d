package rack

// Patch ports of the stock instruments.
var (
	CraveOutputs = []string{"lfo", "env", "noise", "vco", "seq_cv", "gate"}
	CraveInputs  = []string{"vco_freq", "vcf_cutoff", "vcf_res", "vca_level", "lfo_rate", "tempo"}
	EdgeOutputs  = []string{"vco1", "vco2", "noise", "pitch_eg", "seq_pitch", "seq_vel"}
	EdgeInputs   = []string{"vco1_freq", "vco2_freq", "vcf_cutoff", "vca_level", "fm_amt", "tempo"}
	SpiceOutputs = []string{"vco1", "vco2", "sub_mix", "vcf_eg", "seq1", "seq2"}
	SpiceInputs  = []string{"vco1_freq", "vco2_freq", "vcf_cutoff", "vca_level", "sub_cv", "tempo"}
)

func steps(n int, fill func(i int) any) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = fill(i)
	}
	return out
}

func sequencer(numSteps int) map[string]any {
	return map[string]any{
		"tempo":      120.0,
		"steps":      steps(numSteps, func(int) any { return 0.0 }),
		"gates":      steps(numSteps, func(i int) any { return i%4 == 0 }),
		"gateLength": 0.5,
		"running":    false,
		"numSteps":   float64(numSteps),
	}
}

func CraveDefaults() map[string]any {
	return map[string]any{
		"vco":   map[string]any{"frequency": 220.0, "waveform": "sawtooth", "pulseWidth": 0.5, "mix": 1.0},
		"vcf":   map[string]any{"cutoff": 2000.0, "resonance": 0.5, "envAmount": 0.5, "type": "lowpass"},
		"vca":   map[string]any{"mode": "env", "level": 0.7},
		"env":   map[string]any{"attack": 0.01, "decay": 0.3, "sustain": 0.0, "release": 0.1},
		"lfo":   map[string]any{"rate": 2.0, "waveform": "triangle", "destination": "vcf", "amount": 0.0},
		"glide": 0.0,
		"seq":   sequencer(16),
	}
}

func EdgeDefaults() map[string]any {
	return map[string]any{
		"vco1":     map[string]any{"frequency": 200.0, "shape": "square", "level": 0.8},
		"vco2":     map[string]any{"frequency": 300.0, "shape": "square", "level": 0.6, "hardSync": false},
		"fm":       map[string]any{"amount": 0.0},
		"noise":    map[string]any{"type": "white", "level": 0.0},
		"vcf":      map[string]any{"cutoff": 3000.0, "resonance": 0.3, "type": "lowpass"},
		"pitchEg":  map[string]any{"amount": 0.0, "decay": 0.2, "target": "both"},
		"filterEg": map[string]any{"amount": 0.5, "decay": 0.3},
		"vca":      map[string]any{"level": 0.8, "decay": 0.4},
		"seq":      sequencer(8),
	}
}

func SpiceDefaults() map[string]any {
	return map[string]any{
		"vco1":  map[string]any{"frequency": 110.0, "waveform": "sawtooth", "level": 0.8},
		"vco2":  map[string]any{"frequency": 110.0, "waveform": "square", "level": 0.6},
		"sub":   map[string]any{"level1": 0.0, "level2": 0.0, "div1": 2.0, "div2": 4.0},
		"vcf":   map[string]any{"cutoff": 1200.0, "resonance": 0.4, "envAmount": 0.6},
		"vcfEg": map[string]any{"attack": 0.01, "decay": 0.4},
		"vcaEg": map[string]any{"attack": 0.01, "decay": 0.5},
		"vca":   map[string]any{"level": 0.8},
		"seq":   sequencer(4),
	}
}

// Stock registers crave, edge and spice with their default trees and patch ports.
func Stock() (*Rack, error) {
	r := New()
	for _, inst := range []struct {
		id       string
		defaults map[string]any
		out, in  []string
	}{
		{"crave", CraveDefaults(), CraveOutputs, CraveInputs},
		{"edge", EdgeDefaults(), EdgeOutputs, EdgeInputs},
		{"spice", SpiceDefaults(), SpiceOutputs, SpiceInputs},
	} {
		if err := r.Register(inst.id, inst.defaults, inst.out, inst.in); err != nil {
			return nil, err
		}
	}
	return r, nil
}
