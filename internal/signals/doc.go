// Package signals defines the core types shared by the scanning pipeline:
// companies, raw content, candidates, dedup keys and scan reports, plus the
// collaborator interfaces the pipeline depends on.
package signals
