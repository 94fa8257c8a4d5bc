// Package strategy holds the acquisition strategies that fetch raw content for
// one company, and the Chain that runs them in priority order until one of
// them yields accepted candidates.
package strategy
