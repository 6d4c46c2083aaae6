// Package solver pairs named people into rooms, honoring per-person
// lists of preferred and unpreferred partners. Solve generates one
// candidate pairing with a randomized greedy pass, Sample generates
// many of them, and SelectBest picks the winner. All randomness comes
// from the caller's *rand.Rand, so any run can be reproduced from its
// seed.
package solver

import (
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"slices"
	"sync"
)

// Entry holds one person's partner lists. Names match exactly.
type Entry struct {
	Preferred   []string
	Unpreferred []string
}

// Constraints maps every person in the population to their Entry.
type Constraints map[string]Entry

// Pair is one assigned room.
type Pair struct {
	A string
	B string
}

// Solution is a complete pairing of the population. Preferred counts
// pairs where both sides listed each other as preferred, Accepted
// pairs where neither side listed the other as unpreferred, and
// Unpreferred pairs forced with no acceptable candidate left. The
// three counts sum to half the population size.
type Solution struct {
	Pairs       []Pair
	Preferred   int
	Accepted    int
	Unpreferred int
}

// MissingConstraintError reports a name with no Constraints entry,
// found either in the population or inside another person's lists.
type MissingConstraintError struct {
	Name string
}

func (e *MissingConstraintError) Error() string {
	return fmt.Sprintf("solver: no constraint entry for %q", e.Name)
}

var (
	// ErrInsufficientPopulation means a person was left with no
	// partner, which happens when the population size is odd.
	ErrInsufficientPopulation = errors.New("solver: no partner left for unmatched person")

	// ErrNoSolutions means SelectBest had nothing to choose from.
	ErrNoSolutions = errors.New("solver: no solutions to select from")
)

// Params configures sampling.
type Params struct {
	Samples int
	Workers int // below 1 means one per CPU
}

var DefaultParams = Params{Samples: 1000}

// prefIndex is the membership view of Constraints used while matching.
type prefIndex struct {
	preferred   map[string]map[string]bool
	unpreferred map[string]map[string]bool
}

// buildIndex checks that every population member and every name inside
// a partner list has a Constraints entry, and turns population
// members' lists into sets.
func buildIndex(population []string, constraints Constraints) (*prefIndex, error) {
	idx := &prefIndex{
		preferred:   make(map[string]map[string]bool, len(population)),
		unpreferred: make(map[string]map[string]bool, len(population)),
	}
	for _, name := range population {
		entry, ok := constraints[name]
		if !ok {
			return nil, &MissingConstraintError{Name: name}
		}
		for _, list := range [][]string{entry.Preferred, entry.Unpreferred} {
			for _, ref := range list {
				if _, ok := constraints[ref]; !ok {
					return nil, &MissingConstraintError{Name: ref}
				}
			}
		}
		idx.preferred[name] = toSet(entry.Preferred)
		idx.unpreferred[name] = toSet(entry.Unpreferred)
	}
	return idx, nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

// pickPartner removes one uniformly random member of pool satisfying
// ok and returns it with the shrunken pool. found is false when no
// member qualifies; pool comes back unchanged in that case.
func pickPartner(pool []string, rng *rand.Rand, ok func(string) bool) (choice string, rest []string, found bool) {
	matches := make([]int, 0, len(pool))
	for i, name := range pool {
		if ok(name) {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return "", pool, false
	}
	at := matches[rng.Intn(len(matches))]
	choice = pool[at]
	return choice, slices.Delete(pool, at, at+1), true
}

// Solve produces one pairing of the population. People are processed
// in shuffled order; each takes a partner from three tiers: a mutually
// preferred candidate if any remains, otherwise a candidate neither
// side lists as unpreferred, otherwise whoever is left. The choice
// within a tier is uniformly random. A preference listed by only one
// side carries no weight in the first tier; such a pair still counts
// as accepted when the second tier admits it.
//
// The inputs are never modified. An empty population yields an empty
// Solution. An odd population fails with ErrInsufficientPopulation
// once the last person finds nobody left.
func Solve(population []string, constraints Constraints, rng *rand.Rand) (Solution, error) {
	idx, err := buildIndex(population, constraints)
	if err != nil {
		return Solution{}, err
	}

	working := slices.Clone(population)
	rng.Shuffle(len(working), func(i, j int) {
		working[i], working[j] = working[j], working[i]
	})

	var sol Solution
	for len(working) > 0 {
		current := working[len(working)-1]
		working = working[:len(working)-1]

		if partner, rest, ok := pickPartner(working, rng, func(p string) bool {
			return idx.preferred[current][p] && idx.preferred[p][current]
		}); ok {
			working = rest
			sol.Pairs = append(sol.Pairs, Pair{A: current, B: partner})
			sol.Preferred++
			continue
		}

		if partner, rest, ok := pickPartner(working, rng, func(p string) bool {
			return !idx.unpreferred[current][p] && !idx.unpreferred[p][current]
		}); ok {
			working = rest
			sol.Pairs = append(sol.Pairs, Pair{A: current, B: partner})
			sol.Accepted++
			continue
		}

		partner, rest, ok := pickPartner(working, rng, func(string) bool { return true })
		if !ok {
			return Solution{}, fmt.Errorf("%w: %s", ErrInsufficientPopulation, current)
		}
		working = rest
		sol.Pairs = append(sol.Pairs, Pair{A: current, B: partner})
		sol.Unpreferred++
	}
	return sol, nil
}

// deriveSeed mixes a base seed with a stream index so every sample
// runs on its own independent generator. SplitMix64 finalizer.
func deriveSeed(base, stream int64) int64 {
	z := uint64(base) + uint64(stream)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// Sample runs Solve p.Samples times and returns every solution in
// sample order. Each sample draws from a generator seeded off a single
// value taken from rng, so the result depends only on the rng state
// and p.Samples, not on p.Workers or scheduling.
func Sample(population []string, constraints Constraints, p Params, rng *rand.Rand) ([]Solution, error) {
	if p.Samples <= 0 {
		return nil, nil
	}
	workers := p.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if workers > p.Samples {
		workers = p.Samples
	}

	base := rng.Int63()
	solutions := make([]Solution, p.Samples)
	errs := make([]error, p.Samples)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; i < p.Samples; i += workers {
				sampleRNG := rand.New(rand.NewSource(deriveSeed(base, int64(i))))
				solutions[i], errs[i] = Solve(population, constraints, sampleRNG)
			}
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return solutions, nil
}

// SelectBest picks the winning solution: the most preferred pairs,
// then the most accepted pairs among those, then uniformly at random
// among any still tied. The unpreferred count never participates; it
// is fixed by the other two. The input is only read.
func SelectBest(solutions []Solution, rng *rand.Rand) (Solution, error) {
	if len(solutions) == 0 {
		return Solution{}, ErrNoSolutions
	}
	best := filterTop(solutions, func(s Solution) int { return s.Preferred })
	best = filterTop(best, func(s Solution) int { return s.Accepted })
	return best[rng.Intn(len(best))], nil
}

// filterTop keeps the solutions where key is maximal.
func filterTop(solutions []Solution, key func(Solution) int) []Solution {
	top := key(solutions[0])
	for _, s := range solutions[1:] {
		if v := key(s); v > top {
			top = v
		}
	}
	kept := make([]Solution, 0, len(solutions))
	for _, s := range solutions {
		if key(s) == top {
			kept = append(kept, s)
		}
	}
	return kept
}

// Best samples p.Samples pairings and returns the winner per
// SelectBest.
func Best(population []string, constraints Constraints, p Params, rng *rand.Rand) (Solution, error) {
	solutions, err := Sample(population, constraints, p, rng)
	if err != nil {
		return Solution{}, err
	}
	return SelectBest(solutions, rng)
}
