// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// Canonical serialization for state-agreement hashing. The byte output is a
// contract with the client: object keys in sorted order, arrays at full
// MaxSteps length, stepCount defaulted to 16 when unset, and the local-only
// muted/soloed flags excluded. Two logically identical states must always
// canonicalize to identical bytes, so this serializer is hand-built rather
// than reflective. The wire serializer (encoding/json on the model structs)
// is free to evolve; this one is not.

// CanonicalJSON returns the canonical byte serialization of the state.
func CanonicalJSON(s *SessionState) []byte {
	var b bytes.Buffer
	b.Grow(4096)
	writeCanonicalState(&b, s)
	return b.Bytes()
}

// CanonicalHash returns the hex SHA-256 of the canonical serialization.
func CanonicalHash(s *SessionState) string {
	sum := sha256.Sum256(CanonicalJSON(s))
	return hex.EncodeToString(sum[:])
}

func writeCanonicalState(b *bytes.Buffer, s *SessionState) {
	b.WriteByte('{')
	first := true
	field := func(name string) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		writeString(b, name)
		b.WriteByte(':')
	}

	if s.Effects != nil {
		field("effects")
		writeCanonicalEffects(b, s.Effects)
	}
	if s.LoopRegion != nil {
		field("loopRegion")
		b.WriteByte('{')
		writeString(b, "end")
		b.WriteByte(':')
		writeInt(b, s.LoopRegion.End)
		b.WriteByte(',')
		writeString(b, "start")
		b.WriteByte(':')
		writeInt(b, s.LoopRegion.Start)
		b.WriteByte('}')
	}
	if s.Scale != nil {
		field("scale")
		b.WriteByte('{')
		writeString(b, "locked")
		b.WriteByte(':')
		writeBool(b, s.Scale.Locked)
		b.WriteByte(',')
		writeString(b, "root")
		b.WriteByte(':')
		writeString(b, s.Scale.Root)
		b.WriteByte(',')
		writeString(b, "scaleId")
		b.WriteByte(':')
		writeString(b, s.Scale.ScaleID)
		b.WriteByte('}')
	}
	field("swing")
	writeInt(b, s.Swing)
	field("tempo")
	writeInt(b, s.Tempo)
	field("tracks")
	b.WriteByte('[')
	for i, t := range s.Tracks {
		if i > 0 {
			b.WriteByte(',')
		}
		writeCanonicalTrack(b, t)
	}
	b.WriteByte(']')
	field("version")
	writeInt(b, s.Version)
	b.WriteByte('}')
}

func writeCanonicalTrack(b *bytes.Buffer, t *Track) {
	b.WriteByte('{')
	first := true
	field := func(name string) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		writeString(b, name)
		b.WriteByte(':')
	}

	if t.FMParams != nil {
		field("fmParams")
		b.WriteByte('{')
		writeString(b, "harmonicity")
		b.WriteByte(':')
		writeFloat(b, t.FMParams.Harmonicity)
		b.WriteByte(',')
		writeString(b, "modulationIndex")
		b.WriteByte(':')
		writeFloat(b, t.FMParams.ModulationIndex)
		b.WriteByte('}')
	}
	field("id")
	writeString(b, t.ID)
	field("name")
	writeString(b, t.Name)

	field("parameterLocks")
	b.WriteByte('[')
	for i := 0; i < MaxSteps; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		var lock *ParameterLock
		if i < len(t.ParameterLocks) {
			lock = t.ParameterLocks[i]
		}
		if lock.IsEmpty() {
			b.WriteString("null")
			continue
		}
		writeCanonicalLock(b, lock)
	}
	b.WriteByte(']')

	field("sampleId")
	writeString(b, t.SampleID)

	stepCount := t.StepCount
	if stepCount == 0 {
		stepCount = DefaultStepCount
	}
	field("stepCount")
	writeInt(b, stepCount)

	field("steps")
	b.WriteByte('[')
	for i := 0; i < MaxSteps; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		on := false
		if i < len(t.Steps) {
			on = t.Steps[i]
		}
		writeBool(b, on)
	}
	b.WriteByte(']')

	if t.Swing != nil {
		field("swing")
		writeInt(b, *t.Swing)
	}
	field("transpose")
	writeInt(b, t.Transpose)
	field("volume")
	writeFloat(b, t.Volume)
	b.WriteByte('}')
}

func writeCanonicalLock(b *bytes.Buffer, lock *ParameterLock) {
	b.WriteByte('{')
	first := true
	field := func(name string) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		writeString(b, name)
		b.WriteByte(':')
	}
	if lock.Pitch != nil {
		field("pitch")
		writeInt(b, *lock.Pitch)
	}
	if lock.Tie != nil {
		field("tie")
		writeBool(b, *lock.Tie)
	}
	if lock.Volume != nil {
		field("volume")
		writeFloat(b, *lock.Volume)
	}
	b.WriteByte('}')
}

func writeCanonicalEffects(b *bytes.Buffer, e *EffectsState) {
	b.WriteByte('{')
	writeString(b, "chorus")
	b.WriteString(`:{"depth":`)
	writeFloat(b, e.Chorus.Depth)
	b.WriteString(`,"frequency":`)
	writeFloat(b, e.Chorus.Frequency)
	b.WriteString(`,"wet":`)
	writeFloat(b, e.Chorus.Wet)
	b.WriteString(`},`)
	writeString(b, "delay")
	b.WriteString(`:{"feedback":`)
	writeFloat(b, e.Delay.Feedback)
	b.WriteString(`,"time":`)
	writeString(b, e.Delay.Time)
	b.WriteString(`,"wet":`)
	writeFloat(b, e.Delay.Wet)
	b.WriteString(`},`)
	writeString(b, "distortion")
	b.WriteString(`:{"amount":`)
	writeFloat(b, e.Distortion.Amount)
	b.WriteString(`,"wet":`)
	writeFloat(b, e.Distortion.Wet)
	b.WriteString(`},`)
	writeString(b, "reverb")
	b.WriteString(`:{"decay":`)
	writeFloat(b, e.Reverb.Decay)
	b.WriteString(`,"wet":`)
	writeFloat(b, e.Reverb.Wet)
	b.WriteString(`}}`)
}

func writeString(b *bytes.Buffer, s string) {
	enc, err := json.Marshal(s)
	if err != nil {
		// Strings cannot fail to marshal; keep the canonical stream valid.
		b.WriteString(`""`)
		return
	}
	b.Write(enc)
}

func writeInt(b *bytes.Buffer, n int) {
	b.WriteString(strconv.Itoa(n))
}

func writeBool(b *bytes.Buffer, v bool) {
	if v {
		b.WriteString("true")
	} else {
		b.WriteString("false")
	}
}

func writeFloat(b *bytes.Buffer, f float64) {
	// Shortest round-trip representation, matching JSON number output for
	// the bounded ranges the model allows.
	b.Write(strconv.AppendFloat(nil, f, 'g', -1, 64))
}
