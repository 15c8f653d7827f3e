// Package dedupe implements the Dedupe Scorer (§4.2): a pure scoring
// function over two CandidateSnapshots, plus the merge policy that turns
// ranked scores into an auto_merged/needs_review/rejected/none decision.
package dedupe

import (
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "at": true, "for": true, "from": true,
	"in": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"with": true,
}

// Tokenize lowercases, extracts [a-z0-9]+ runs, and drops stopwords.
func Tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		if stopwords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

// Jaccard computes |A∩B| / |A∪B| over two already-tokenized sets; two
// empty sets score 0 (no evidence either way).
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func jaccardStrings(a, b []string) float64 {
	return Jaccard(tokenizeSlice(a), tokenizeSlice(b))
}

func tokenizeSlice(items []string) map[string]bool {
	out := map[string]bool{}
	for _, item := range items {
		for tok := range Tokenize(item) {
			out[tok] = true
		}
	}
	return out
}

// Score is the scorer's verdict for one candidate pair.
type Score struct {
	CandidateID     string
	Confidence      float64
	StrongSignals   []string
	HasStrongSignal bool
	HasPosting      bool
	TitleSimilarity float64
	OrgSimilarity   float64
}

const (
	weightCanonicalHash  = 0.65
	weightNormalizedURL  = 0.20
	weightCanonicalURL   = 0.15
	weightApplicationURL = 0.10
	weightTitle          = 0.45
	weightOrg            = 0.25
	weightPhrase         = 0.10
	weightNEROrg         = 0.10
	weightNERLocation    = 0.05
	weightNERPerson      = 0.05
	weightNERDomain      = 0.05
	weightNERContact     = 0.05

	noStrongSignalCap = 0.89
	maxConfidence      = 0.9999
)

// EvaluatePair scores `incoming` against a single `existing` snapshot,
// per the §4.2 signal table.
func EvaluatePair(incoming, existing CandidateSnapshot) Score {
	var score float64
	var strong []string

	addStrong := func(equal bool, weight float64, name string) {
		if equal {
			score += weight
			strong = append(strong, name)
		}
	}

	addStrong(nonEmptyEqual(incoming.CanonicalHash, existing.CanonicalHash), weightCanonicalHash, "canonical_hash")
	addStrong(nonEmptyEqual(incoming.NormalizedURL, existing.NormalizedURL), weightNormalizedURL, "normalized_url")
	addStrong(nonEmptyEqual(incoming.CanonicalURL, existing.CanonicalURL), weightCanonicalURL, "canonical_url")
	addStrong(nonEmptyEqual(incoming.ApplicationURL, existing.ApplicationURL), weightApplicationURL, "application_url")

	titleSim := jaccardStrings([]string{incoming.Title}, []string{existing.Title})
	orgSim := orgSimilarity(incoming.OrganizationName, existing.OrganizationName)
	score += weightTitle * titleSim
	score += weightOrg * orgSim

	incomingPhrase := append(append(append([]string{}, incoming.Tags...), incoming.Areas...), incoming.DescriptionText)
	existingPhrase := append(append(append([]string{}, existing.Tags...), existing.Areas...), existing.DescriptionText)
	score += weightPhrase * jaccardStrings(incomingPhrase, existingPhrase)

	score += weightNEROrg * jaccardStrings(incoming.NEROrgs, existing.NEROrgs)
	score += weightNERLocation * jaccardStrings(incoming.NERLocations, existing.NERLocations)
	score += weightNERPerson * jaccardStrings(incoming.NERPersons, existing.NERPersons)
	score += weightNERDomain * jaccardStrings(incoming.NERDomains, existing.NERDomains)
	score += weightNERContact * jaccardStrings(incoming.NERContactDomains, existing.NERContactDomains)

	hasStrong := len(strong) > 0
	if !hasStrong && score > noStrongSignalCap {
		score = noStrongSignalCap
	}

	confidence := score
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	return Score{
		CandidateID:     existing.CandidateID,
		Confidence:      confidence,
		StrongSignals:   strong,
		HasStrongSignal: hasStrong,
		HasPosting:      existing.HasPosting,
		TitleSimilarity: titleSim,
		OrgSimilarity:   orgSim,
	}
}

func nonEmptyEqual(a, b string) bool {
	return a != "" && b != "" && a == b
}

func orgSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) && strings.TrimSpace(a) != "" {
		return 1.0
	}
	return jaccardStrings([]string{a}, []string{b})
}

func fieldConflict(equalStrong bool, aEmpty, bEmpty bool) bool {
	// A conflict fires when both sides HAVE the field but they disagree,
	// while some other strong signal still fired (checked by caller).
	return !equalStrong && !aEmpty && !bEmpty
}

// sortScores ranks by (-confidence, candidate_id) ascending, per §4.2
// step 2.
func sortScores(scores []Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Confidence != scores[j].Confidence {
			return scores[i].Confidence > scores[j].Confidence
		}
		return scores[i].CandidateID < scores[j].CandidateID
	})
}
