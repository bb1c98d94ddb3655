package tts

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// Recognized override names.
const (
	FieldSpeakerID       = "speaker_id"
	FieldLengthScale     = "length_scale"
	FieldNoiseScale      = "noise_scale"
	FieldNoiseW          = "noise_w"
	FieldSentenceSilence = "sentence_silence"
)

// FieldNames lists every recognized override in a stable order.
var FieldNames = []string{
	FieldSpeakerID,
	FieldLengthScale,
	FieldNoiseScale,
	FieldNoiseW,
	FieldSentenceSilence,
}

// IsIntField reports whether name is declared as an integer. Every other
// recognized field is floating point.
func IsIntField(name string) bool {
	return name == FieldSpeakerID
}

// Params are the synthesis knobs. A nil field means "use the voice default".
type Params struct {
	SpeakerID       *int
	LengthScale     *float64
	NoiseScale      *float64
	NoiseW          *float64
	SentenceSilence *float64
}

// Overrides maps recognized field names to raw request values. A present key
// with a nil value is an explicit null and never replaces a default.
type Overrides map[string]any

// DefaultParams copies server-wide defaults from configuration.
func DefaultParams(cfg config.SynthesisConfig) Params {
	return Params{
		SpeakerID:       cloneInt(cfg.SpeakerID),
		LengthScale:     cloneFloat(cfg.LengthScale),
		NoiseScale:      cloneFloat(cfg.NoiseScale),
		NoiseW:          cloneFloat(cfg.NoiseW),
		SentenceSilence: cloneFloat(cfg.SentenceSilence),
	}
}

// Resolve merges overrides on top of defaults. Explicit values override,
// zero included; nil values and unknown keys are ignored. Values are only
// coerced to the field's type, never range checked. It does not modify its
// inputs.
func Resolve(defaults Params, overrides Overrides) (Params, error) {
	var req Params
	for _, name := range FieldNames {
		raw, ok := overrides[name]
		if !ok || raw == nil {
			continue
		}
		if err := req.set(name, raw); err != nil {
			return Params{}, err
		}
	}
	return Params{
		SpeakerID:       pickInt(req.SpeakerID, defaults.SpeakerID),
		LengthScale:     pickFloat(req.LengthScale, defaults.LengthScale),
		NoiseScale:      pickFloat(req.NoiseScale, defaults.NoiseScale),
		NoiseW:          pickFloat(req.NoiseW, defaults.NoiseW),
		SentenceSilence: pickFloat(req.SentenceSilence, defaults.SentenceSilence),
	}, nil
}

func (p *Params) set(name string, raw any) error {
	if IsIntField(name) {
		v, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
		}
		p.SpeakerID = &v
		return nil
	}
	v, err := toFloat(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, name, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s: not a finite number", ErrDecode, name)
	}
	switch name {
	case FieldLengthScale:
		p.LengthScale = &v
	case FieldNoiseScale:
		p.NoiseScale = &v
	case FieldNoiseW:
		p.NoiseW = &v
	case FieldSentenceSilence:
		p.SentenceSilence = &v
	}
	return nil
}

// Fields returns the set fields keyed by override name.
func (p Params) Fields() map[string]any {
	out := make(map[string]any, len(FieldNames))
	if p.SpeakerID != nil {
		out[FieldSpeakerID] = *p.SpeakerID
	}
	if p.LengthScale != nil {
		out[FieldLengthScale] = *p.LengthScale
	}
	if p.NoiseScale != nil {
		out[FieldNoiseScale] = *p.NoiseScale
	}
	if p.NoiseW != nil {
		out[FieldNoiseW] = *p.NoiseW
	}
	if p.SentenceSilence != nil {
		out[FieldSentenceSilence] = *p.SentenceSilence
	}
	return out
}

// Args renders the set fields as piper command line flags.
func (p Params) Args() []string {
	var args []string
	if p.SpeakerID != nil {
		args = append(args, "--speaker", strconv.Itoa(*p.SpeakerID))
	}
	if p.LengthScale != nil {
		args = append(args, "--length_scale", formatFloat(*p.LengthScale))
	}
	if p.NoiseScale != nil {
		args = append(args, "--noise_scale", formatFloat(*p.NoiseScale))
	}
	if p.NoiseW != nil {
		args = append(args, "--noise_w", formatFloat(*p.NoiseW))
	}
	if p.SentenceSilence != nil {
		args = append(args, "--sentence_silence", formatFloat(*p.SentenceSilence))
	}
	return args
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v.String())
		}
		return toInt(f)
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v.String())
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func pickInt(override, def *int) *int {
	if override != nil {
		return override
	}
	return cloneInt(def)
}

func pickFloat(override, def *float64) *float64 {
	if override != nil {
		return override
	}
	return cloneFloat(def)
}
