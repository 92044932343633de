// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import "math/rand"

// Source produces raw 10-bit readings for one analog line.
type Source interface {
	Read() uint16
}

// Constant always reads the same value.
type Constant uint16

// Read implements Source.
func (c Constant) Read() uint16 { return uint16(c) }

// Noisy reads Base plus uniform noise in [-Spread, +Spread], clamped to
// 10 bits.
type Noisy struct {
	Base   uint16
	Spread uint16
	rng    *rand.Rand
}

// NewNoisy returns a Noisy source with its own generator seeded from seed.
func NewNoisy(base, spread uint16, seed int64) *Noisy {
	return &Noisy{Base: base, Spread: spread, rng: rand.New(rand.NewSource(seed))}
}

// Read implements Source.
func (n *Noisy) Read() uint16 {
	v := int(n.Base)
	if n.Spread > 0 {
		v += n.rng.Intn(2*int(n.Spread)+1) - int(n.Spread)
	}
	if v < 0 {
		return 0
	}
	if v > 1023 {
		return 1023
	}
	return uint16(v)
}

// Scripted replays a fixed sequence of readings and then holds the last one.
type Scripted struct {
	Values []uint16
	pos    int
}

// Read implements Source.
func (s *Scripted) Read() uint16 {
	if len(s.Values) == 0 {
		return 0
	}
	v := s.Values[s.pos]
	if s.pos < len(s.Values)-1 {
		s.pos++
	}
	return v
}

// ADC is a multiplexed converter over per-line sources. Lines without a
// source read zero. A conversion reports ready after ReadyPolls polls.
type ADC struct {
	ReadyPolls int

	sources     map[uint8]Source
	line        uint8
	polls       int
	busy        bool
	conversions uint64
}

// NewADC builds a converter over sources, keyed by line. The map is owned by
// the ADC afterwards.
func NewADC(sources map[uint8]Source, readyPolls int) *ADC {
	if sources == nil {
		sources = map[uint8]Source{}
	}
	return &ADC{ReadyPolls: readyPolls, sources: sources}
}

// BeginConversion implements ibus.Converter.
func (a *ADC) BeginConversion(line uint8) {
	a.line = line
	a.polls = 0
	a.busy = true
	a.conversions++
}

// ConversionReady implements ibus.Converter.
func (a *ADC) ConversionReady() bool {
	if !a.busy {
		return false
	}
	a.polls++
	return a.polls > a.ReadyPolls
}

// ConversionResult implements ibus.Converter.
func (a *ADC) ConversionResult() uint16 {
	a.busy = false
	src, ok := a.sources[a.line]
	if !ok {
		return 0
	}
	return src.Read()
}

// SetSource replaces the source on line. A nil source reads zero.
func (a *ADC) SetSource(line uint8, src Source) {
	if src == nil {
		delete(a.sources, line)
		return
	}
	a.sources[line] = src
}

// Conversions returns the number of conversions started.
func (a *ADC) Conversions() uint64 {
	return a.conversions
}
