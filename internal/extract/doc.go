// Package extract turns raw, noisy text into validated job and hire
// candidates.
//
// Extraction runs in three stages: a cheap keyword pre-filter, an ordered
// table of declarative regular-expression rules, and validation. Each
// accepted candidate carries a confidence score built from the source it came
// from, the weight of the rule that matched, seniority keywords in the
// position and the length of the person's name.
package extract
