// Package rangeloop provides a flexible way to loop through a range of
// parameter values.
//
// A RangeLoop holds an ordered list of values and visits them according
// to a sequence policy (up, down, alternating inwards or outwards, random
// or pseudo-random), with three nested repetition levels and an increment
// that is progressively halved across block repetitions so the parameter
// space is bisected ever more finely.
package rangeloop

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
)

// Sequence selects the order in which the values are visited.
type Sequence int

const (
	// Up visits the values in ascending index order
	Up Sequence = iota
	// Down visits the values in descending index order
	Down
	// AlternateInUp alternates from both ends towards the centre,
	// starting at the lower end
	AlternateInUp
	// AlternateInDown alternates from both ends towards the centre,
	// starting at the upper end
	AlternateInDown
	// AlternateOutUp alternates outwards from the start position,
	// going up first
	AlternateOutUp
	// AlternateOutDown alternates outwards from the start position,
	// going down first
	AlternateOutDown
	// Random shuffles the values with a generator seeded once, from the
	// loop counter, when the first Random sequence is built; later sweeps
	// continue that generator
	Random
	// PseudoRandom shuffles the values with a fixed seed, so the order
	// is reproducible across runs
	PseudoRandom
)

// pseudoRandomSeed makes PseudoRandom reproducible across sessions.
const pseudoRandomSeed = 87342

// ValidateSequence parses a sequence policy name.
func ValidateSequence(s string) (Sequence, error) {
	switch strings.ToLower(s) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	case "alternateinup":
		return AlternateInUp, nil
	case "alternateindown":
		return AlternateInDown, nil
	case "alternateoutup":
		return AlternateOutUp, nil
	case "alternateoutdown":
		return AlternateOutDown, nil
	case "random":
		return Random, nil
	case "pseudorandom":
		return PseudoRandom, nil
	default:
		return -1, fmt.Errorf("unknown sequence %q", s)
	}
}

// FormatSequence converts a sequence policy to its name.
func FormatSequence(s Sequence) string {
	switch s {
	case Up:
		return "Up"
	case Down:
		return "Down"
	case AlternateInUp:
		return "AlternateInUp"
	case AlternateInDown:
		return "AlternateInDown"
	case AlternateOutUp:
		return "AlternateOutUp"
	case AlternateOutDown:
		return "AlternateOutDown"
	case Random:
		return "Random"
	case PseudoRandom:
		return "PseudoRandom"
	default:
		return ""
	}
}

type element struct {
	value float64
	count int
	skip  bool
}

// RangeLoop iterates over a list of values with nested repetitions and a
// progressively refined increment.
type RangeLoop struct {
	elements []element
	indices  []int

	index    int
	startPos int
	loop     int

	repeat      int
	repeatCount int

	blockRepeat      int
	blockRepeatCount int

	singleRepeat      int
	singleRepeatCount int

	increment        int
	currentIncrement int

	seq     Sequence
	stepFac float64

	rng *rand.Rand
}

// New creates an empty RangeLoop.
func New() *RangeLoop {
	return &RangeLoop{
		repeat: 1, blockRepeat: 1, singleRepeat: 1,
		increment: 1, currentIncrement: 1,
	}
}

// NewLinear creates a RangeLoop over first..last with the given step and
// repetition counts.
func NewLinear(first, last, step float64, repeat, blockRepeat, singleRepeat int) *RangeLoop {
	r := New()
	r.Set(first, last, step, repeat, blockRepeat, singleRepeat, 1)
	return r
}

// NewString creates a RangeLoop from the textual shorthand, scaling all
// values by scale.
func NewString(rangeStr string, scale float64) (*RangeLoop, error) {
	r := New()
	err := r.SetString(rangeStr, scale)
	return r, err
}

// Size returns the number of values.
func (r *RangeLoop) Size() int {
	return len(r.elements)
}

// Empty reports whether the loop holds no values.
func (r *RangeLoop) Empty() bool {
	return len(r.elements) == 0
}

// Set initializes the loop with a linear range and repetition counts.
func (r *RangeLoop) Set(first, last, step float64, repeat, blockRepeat, singleRepeat, increment int) {
	r.elements = r.elements[:0]
	r.Add(first, last, step)
	r.index = 0
	r.repeat = repeat
	r.repeatCount = 0
	r.blockRepeat = blockRepeat
	r.blockRepeatCount = 0
	r.singleRepeat = singleRepeat
	r.singleRepeatCount = 0
	r.SetIncrement(increment)
	r.currentIncrement = r.increment
	r.seq = Up
}

// SetCount initializes the loop with n evenly spaced values from first to
// last inclusive.
func (r *RangeLoop) SetCount(first, last float64, n, repeat, blockRepeat, singleRepeat, increment int) {
	step := 1.0
	if n > 1 {
		step = (last - first) / float64(n-1)
	}
	r.elements = r.elements[:0]
	if n == 1 {
		r.AddValue(first)
	} else {
		for k := 0; k < n; k++ {
			r.AddValue(first + float64(k)*step)
		}
	}
	r.stepFac = step
	r.index = 0
	r.repeat = repeat
	r.repeatCount = 0
	r.blockRepeat = blockRepeat
	r.blockRepeatCount = 0
	r.singleRepeat = singleRepeat
	r.singleRepeatCount = 0
	r.SetIncrement(increment)
	r.currentIncrement = r.increment
	r.seq = Up
}

// SetLog initializes the loop with a logarithmic range: successive values
// are multiplied by fac.
func (r *RangeLoop) SetLog(first, last, fac float64, repeat, blockRepeat, singleRepeat, increment int) {
	r.elements = r.elements[:0]
	r.AddLog(first, last, fac)
	r.index = 0
	r.repeat = repeat
	r.repeatCount = 0
	r.blockRepeat = blockRepeat
	r.blockRepeatCount = 0
	r.singleRepeat = singleRepeat
	r.singleRepeatCount = 0
	r.SetIncrement(increment)
	r.currentIncrement = r.increment
	r.seq = Up
}

// Add appends the linear range first..last with the given step.  A range
// with first > last and positive step is empty; first == last yields the
// single value first.
func (r *RangeLoop) Add(first, last, step float64) {
	oldsize := len(r.elements)
	// a millionth of a step keeps last in the range when rounding lands
	// the final value just beyond it
	tol := 1e-6 * math.Abs(step)
	switch {
	case first == last:
		r.AddValue(first)
	case first < last && step > 0:
		v := first
		for k := 0; v <= last+tol; k++ {
			r.AddValue(v)
			v = first + float64(k+1)*step
		}
	case first > last && step < 0:
		v := first
		for k := 0; v >= last-tol; k++ {
			r.AddValue(v)
			v = first + float64(k+1)*step
		}
	}
	if oldsize == 0 {
		r.stepFac = step
	} else if r.stepFac <= 0 || math.Abs(r.stepFac-step) > 1e-8 {
		r.stepFac = 0
	}
}

// AddLog appends the logarithmic range first..last with factor fac.
func (r *RangeLoop) AddLog(first, last, fac float64) {
	oldsize := len(r.elements)
	switch {
	case first == last:
		r.AddValue(first)
	case first < last && fac > 1:
		for v := first; v <= last; v *= fac {
			r.AddValue(v)
		}
	case first > last && fac > 0 && fac < 1:
		for v := first; v >= last; v *= fac {
			r.AddValue(v)
		}
	}
	if oldsize == 0 {
		r.stepFac = -fac
	} else if r.stepFac >= 0 || math.Abs(-r.stepFac-fac) > 1e-8 {
		r.stepFac = 0
	}
}

// AddValue appends a single value.
func (r *RangeLoop) AddValue(v float64) {
	r.elements = append(r.elements, element{value: v})
}

// SetString parses the textual shorthand: comma separated elements that
// are single numbers, linear ranges "first..last..step", logarithmic
// ranges "first..*fac..last", the increment modifier "i:<n>", or a
// sequence name.  All values are multiplied by scale.
func (r *RangeLoop) SetString(rangeStr string, scale float64) error {
	r.elements = r.elements[:0]
	r.index = 0
	r.repeat = 1
	r.repeatCount = 0
	r.blockRepeat = 1
	r.blockRepeatCount = 0
	r.singleRepeat = 1
	r.singleRepeatCount = 0
	r.increment = 1
	r.currentIncrement = 1
	r.seq = Up

	for _, tok := range strings.Split(rangeStr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if tok[0] >= '0' && tok[0] <= '9' || tok[0] == '-' || tok[0] == '+' || tok[0] == '.' {
			if err := r.parseRangeToken(tok); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(tok, "i:") {
			n, err := strconv.Atoi(tok[2:])
			if err != nil {
				return fmt.Errorf("bad increment %q: %v", tok, err)
			}
			r.SetIncrement(n)
			r.currentIncrement = r.increment
			continue
		}
		seq, err := ValidateSequence(tok)
		if err != nil {
			return err
		}
		r.seq = seq
	}

	if scale != 1.0 {
		for k := range r.elements {
			r.elements[k].value *= scale
		}
	}
	return nil
}

// parseRangeToken handles a numeric token: "v", "a..b", "a..b..d" or
// "a..*f..b".
func (r *RangeLoop) parseRangeToken(tok string) error {
	log := false
	var parts []string
	rest := tok
	for len(parts) < 3 {
		ri := strings.Index(rest, "..")
		fi := -1
		if len(parts) == 1 {
			fi = strings.Index(rest, "*")
		}
		if fi >= 0 && (ri < 0 || fi < ri) {
			log = true
			parts = append(parts, rest[:fi])
			rest = rest[fi+1:]
			continue
		}
		if ri < 0 {
			parts = append(parts, rest)
			rest = ""
			break
		}
		parts = append(parts, rest[:ri])
		rest = rest[ri+2:]
	}
	if rest != "" {
		parts = append(parts, rest)
	}

	nums := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return fmt.Errorf("bad range element %q: %v", tok, err)
		}
		nums = append(nums, v)
	}

	switch {
	case len(nums) == 1:
		r.AddValue(nums[0])
	case len(nums) >= 2 && log:
		// first..*fac..last
		last := nums[1]
		fac := nums[1]
		if len(nums) > 2 {
			fac = nums[1]
			last = nums[2]
		}
		r.AddLog(nums[0], last, fac)
	case len(nums) == 2:
		r.Add(nums[0], nums[1], 1.0)
	case len(nums) >= 3:
		r.Add(nums[0], nums[1], nums[2])
	}
	return nil
}

// Repeat returns the top-level repetition count.
func (r *RangeLoop) Repeat() int { return r.repeat }

// SetRepeat sets the top-level repetition count; 0 repeats forever.
func (r *RangeLoop) SetRepeat(n int) { r.repeat = n }

// BlockRepeat returns the block repetition count.
func (r *RangeLoop) BlockRepeat() int { return r.blockRepeat }

// SetBlockRepeat sets the block repetition count.
func (r *RangeLoop) SetBlockRepeat(n int) { r.blockRepeat = n }

// SingleRepeat returns the per-value repetition count.
func (r *RangeLoop) SingleRepeat() int { return r.singleRepeat }

// SetSingleRepeat sets the per-value repetition count.
func (r *RangeLoop) SetSingleRepeat(n int) { r.singleRepeat = n }

// CurrentRepetition returns the finished top-level repetitions.
func (r *RangeLoop) CurrentRepetition() int { return r.repeatCount }

// FinishedBlock reports whether a block sweep just completed.
func (r *RangeLoop) FinishedBlock() bool {
	return r.blockRepeatCount == 0 && r.index == 0 && r.singleRepeatCount == 0
}

// FinishedSingle reports whether the repetitions of the current value
// just completed.
func (r *RangeLoop) FinishedSingle() bool {
	return r.singleRepeatCount == 0
}

// SetIncrement sets the index increment.  A positive value is used as is;
// zero or a negative value selects the large increment (the largest power
// of two not exceeding a quarter of the size) halved -increment times.
func (r *RangeLoop) SetIncrement(increment int) {
	if increment > 0 {
		r.increment = increment
		return
	}
	r.SetLargeIncrement()
	for k := 0; k < -increment; k++ {
		r.increment /= 2
		if r.increment < 1 {
			r.increment = 1
			break
		}
	}
}

// SetLargeIncrement sets the increment to the largest power of two with
// increment*4 <= size.
func (r *RangeLoop) SetLargeIncrement() {
	inc := 1
	for inc*2*4 <= len(r.elements) {
		inc *= 2
	}
	r.increment = inc
}

// CurrentIncrement returns the increment of the running block sweep.
func (r *RangeLoop) CurrentIncrement() int { return r.currentIncrement }

// SetSequence selects the visiting order.
func (r *RangeLoop) SetSequence(seq Sequence) { r.seq = seq }

// MaxCount returns repeat*blockRepeat*singleRepeat.
func (r *RangeLoop) MaxCount() int {
	return r.repeat * r.blockRepeat * r.singleRepeat
}

func (r *RangeLoop) maxBlockCount() int {
	return r.repeatCount*r.blockRepeat*r.singleRepeat + r.blockRepeat*r.singleRepeat
}

// TotalCount returns the summed visit counts of all values.
func (r *RangeLoop) TotalCount() int {
	c := 0
	for k := range r.elements {
		c += r.elements[k].count
	}
	return c
}

// initSequence rebuilds the visiting order for the current increment,
// starting at the element index closest to pos.  pos < 0 selects the
// default start position of the sequence.
func (r *RangeLoop) initSequence(pos int) {
	r.indices = r.indices[:0]
	r.index = 0
	r.startPos = pos

	count := r.maxBlockCount()
	var einx []int
	for k := 0; k < len(r.elements); k += r.currentIncrement {
		if !r.elements[k].skip && r.elements[k].count < count {
			einx = append(einx, k)
		}
	}
	if len(einx) == 0 {
		return
	}

	if pos < 0 {
		switch r.seq {
		case AlternateInUp, AlternateInDown, AlternateOutUp, AlternateOutDown:
			pos = einx[len(einx)/2]
		default:
			pos = 0
		}
	}

	// element of einx closest to pos
	si := 0
	min := len(r.elements)
	for j, e := range einx {
		if abs(e-pos) < min {
			si = j
			min = abs(e - pos)
		}
	}

	n := len(einx)
	switch r.seq {

	case Down:
		j := si - 1
		for k := 0; k < n; k, j = k+1, j-1 {
			if j < 0 {
				j = n - 1
			}
			r.indices = append(r.indices, einx[j])
		}

	case AlternateInUp:
		for k, j := 0, 0; k < n; k, j = k+1, j+1 {
			i := j / 2
			if j%2 == 1 {
				i = n - 1 - j/2
			}
			if (j%2 == 0 && i > si) || (j%2 == 1 && i < si) {
				k--
				continue
			}
			r.indices = append(r.indices, einx[i])
		}

	case AlternateInDown:
		for k, j := 0, 0; k < n; k, j = k+1, j+1 {
			i := n - 1 - j/2
			if j%2 == 1 {
				i = j / 2
			}
			if (j%2 == 1 && i > si) || (j%2 == 0 && i < si) {
				k--
				continue
			}
			r.indices = append(r.indices, einx[i])
		}

	case AlternateOutUp:
		for k, j := 0, 0; k < n; k, j = k+1, j+1 {
			i := si - (j+1)/2
			if j%2 == 1 {
				i = si + (j+1)/2
			}
			if i < 0 || i >= n {
				k--
				continue
			}
			r.indices = append(r.indices, einx[i])
		}

	case AlternateOutDown:
		for k, j := 0, 0; k < n; k, j = k+1, j+1 {
			i := si + (j+1)/2
			if j%2 == 1 {
				i = si - (j+1)/2
			}
			if i < 0 || i >= n {
				k--
				continue
			}
			r.indices = append(r.indices, einx[i])
		}

	case Random, PseudoRandom:
		if r.rng == nil || r.seq == PseudoRandom {
			seed := int64(pseudoRandomSeed)
			if r.seq == Random {
				seed = int64(r.loop)*6364136223846793005 + 1442695040888963407
			}
			r.rng = rand.New(rand.NewSource(seed))
		}
		perm := r.rng.Perm(n)
		for _, p := range perm {
			r.indices = append(r.indices, einx[p])
		}

	default: // Up
		j := si
		for k := 0; k < n; k, j = k+1, j+1 {
			if j >= n {
				j = 0
			}
			r.indices = append(r.indices, einx[j])
		}
	}
}

// Reset restarts the loop from scratch, clearing all visit counts.  pos
// selects the start position; pass -1 for the sequence default.
func (r *RangeLoop) Reset(pos int) {
	r.loop = 0
	for k := range r.elements {
		r.elements[k].count = 0
	}
	r.repeatCount = 0
	r.blockRepeatCount = 0
	r.singleRepeatCount = 0
	r.currentIncrement = r.increment
	r.initSequence(pos)
}

// ResetClearSkip is Reset with all skip flags cleared as well.
func (r *RangeLoop) ResetClearSkip(pos int) {
	for k := range r.elements {
		r.elements[k].skip = false
	}
	r.Reset(pos)
}

// Step advances the loop to the next value.
func (r *RangeLoop) Step() {
	r.loop++

	if p := r.Pos(); p >= 0 && p < len(r.elements) {
		r.elements[p].count++
	}

	r.singleRepeatCount++
	if r.singleRepeatCount < r.singleRepeat &&
		r.index >= 0 && r.index < len(r.indices) &&
		!r.elements[r.indices[r.index]].skip &&
		r.elements[r.indices[r.index]].count < r.maxBlockCount() {
		return
	}
	r.singleRepeatCount = 0

	for {
		r.index++

		if r.index == 0 || r.index >= len(r.indices) {
			r.index = 0
			r.blockRepeatCount++

			if r.blockRepeatCount >= r.blockRepeat {
				r.blockRepeatCount = 0

				for {
					r.currentIncrement /= 2

					if r.currentIncrement <= 0 {
						r.currentIncrement = r.increment
						r.repeatCount++

						if r.repeat > 0 && r.repeatCount >= r.repeat {
							return
						}

						skipall := true
						for k := range r.elements {
							if !r.elements[k].skip {
								skipall = false
								break
							}
						}
						if skipall {
							return
						}
					}

					r.initSequence(r.startPos)
					if len(r.indices) != 0 {
						break
					}
				}
			}
		}

		if r.index < len(r.indices) &&
			!r.elements[r.indices[r.index]].skip &&
			r.elements[r.indices[r.index]].count < r.maxBlockCount() {
			return
		}
	}
}

// Done reports whether the loop has finished.
func (r *RangeLoop) Done() bool {
	ok := r.index >= 0 && r.index < len(r.indices) &&
		r.repeatCount >= 0 && (r.repeat <= 0 || r.repeatCount < r.repeat) &&
		r.blockRepeatCount >= 0 && r.blockRepeatCount < r.blockRepeat &&
		r.singleRepeatCount >= 0 && r.singleRepeatCount < r.singleRepeat &&
		r.currentIncrement > 0
	return !ok
}

// Update rebuilds the sequence, e.g. after skip flags changed.  pos >= -1
// replaces the memorized start position.
func (r *RangeLoop) Update(pos int) {
	if pos > -2 {
		r.startPos = pos
	}
	r.initSequence(r.startPos)
	if len(r.indices) == 0 {
		r.loop--
		r.Step()
	}
	if len(r.indices) == 0 {
		r.index = -1
	}
}

// Loop returns the number of completed Step calls.
func (r *RangeLoop) Loop() int { return r.loop }

// Value returns the current value.
func (r *RangeLoop) Value() float64 {
	return r.elements[r.Pos()].value
}

// Pos returns the element index of the current value.
func (r *RangeLoop) Pos() int {
	if r.index < 0 || r.index >= len(r.indices) {
		return -1
	}
	return r.indices[r.index]
}

// Count returns the visit count of the current value.
func (r *RangeLoop) Count() int {
	return r.elements[r.Pos()].count
}

// NoCount undoes the count of the current visit, so a failed measurement
// is repeated.
func (r *RangeLoop) NoCount() {
	r.elements[r.Pos()].count--
}

// SetSkip marks the current value to be skipped.
func (r *RangeLoop) SetSkip() {
	r.elements[r.Pos()].skip = true
}

// ValueAt returns the value at element index pos.
func (r *RangeLoop) ValueAt(pos int) float64 {
	return r.elements[pos].value
}

// CountAt returns the visit count at element index pos.
func (r *RangeLoop) CountAt(pos int) int {
	return r.elements[pos].count
}

// SkipAt returns the skip flag at element index pos.
func (r *RangeLoop) SkipAt(pos int) bool {
	return r.elements[pos].skip
}

// SetSkipAt sets the skip flag at element index pos.
func (r *RangeLoop) SetSkipAt(pos int, skip bool) {
	r.elements[pos].skip = skip
}

// SetSkipBelow sets the skip flag of all elements up to and including pos.
func (r *RangeLoop) SetSkipBelow(pos int, skip bool) {
	for k := 0; k <= pos && k < len(r.elements); k++ {
		r.elements[k].skip = skip
	}
}

// SetSkipAbove sets the skip flag of all elements from pos on.
func (r *RangeLoop) SetSkipAbove(pos int, skip bool) {
	for k := pos; k < len(r.elements); k++ {
		if k < 0 {
			continue
		}
		r.elements[k].skip = skip
	}
}

// SetSkipBetween sets the skip flag of all elements in [pos1, pos2].
func (r *RangeLoop) SetSkipBetween(pos1, pos2 int, skip bool) {
	for k := pos1; k < len(r.elements) && k <= pos2; k++ {
		r.elements[k].skip = skip
	}
}

// Purge removes all skipped elements and rebuilds the sequence.
func (r *RangeLoop) Purge() {
	kept := r.elements[:0]
	for _, e := range r.elements {
		if !e.skip {
			kept = append(kept, e)
		}
	}
	r.elements = kept
	r.initSequence(r.startPos)
}

// MinValue returns the smallest value.
func (r *RangeLoop) MinValue() float64 {
	if len(r.elements) == 0 {
		return 0
	}
	min := r.elements[0].value
	for _, e := range r.elements[1:] {
		if e.value < min {
			min = e.value
		}
	}
	return min
}

// MaxValue returns the largest value.
func (r *RangeLoop) MaxValue() float64 {
	if len(r.elements) == 0 {
		return 0
	}
	max := r.elements[0].value
	for _, e := range r.elements[1:] {
		if e.value > max {
			max = e.value
		}
	}
	return max
}

// PosOfValue returns the element index closest to value.
func (r *RangeLoop) PosOfValue(value float64) int {
	if len(r.elements) == 0 {
		return 0
	}
	p := 0
	dist := math.Abs(r.elements[0].value - value)
	for k := 1; k < len(r.elements); k++ {
		if d := math.Abs(r.elements[k].value - value); d < dist {
			dist = d
			p = k
		}
	}
	return p
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
