// Package sched computes per-record network priorities and selects the
// next operation to perform.
package sched

import (
	"sort"

	"github.com/viewfinderco/viewfinder/internal/models"
)

// Boost tiers, coarse priority buckets applied before fine-grained
// ordering. Highest first.
const (
	BoostUIWait      = 40 // a UI consumer is blocked on this record's image
	BoostRemove      = 30 // delete or unshare pending
	BoostShareUnsent = 20 // share pending, thumbnail/full bytes still unsent
	BoostShareSent   = 10 // share pending, images already sent
	BoostBackground  = 0
)

// Fine priority levels within a boost tier.
const (
	fineDownloadUI       = 7
	fineDownloadDisplay  = 6 // thumbnail/full download
	fineUploadDisplay    = 5 // thumbnail/full upload
	fineUploadMetadata   = 4
	fineDownloadMedium   = 3
	fineUploadLarge      = 2 // medium/original upload
	fineDownloadOriginal = 1
	fineNone             = 0
)

// Env is the connection and UI context a scheduling pass runs under.
type Env struct {
	// OnWifi gates original-size transfers and medium downloads; on a
	// metered connection those are not considered at all.
	OnWifi bool
	// UIWanted holds photos a UI consumer is actively blocked on.
	UIWanted map[models.PhotoID]bool
}

func (env Env) uiWanted(id models.PhotoID) bool {
	return env.UIWanted != nil && env.UIWanted[id]
}

// OpKind names the network operation materialized for a record.
type OpKind int

const (
	OpNone OpKind = iota
	OpMetadataUpload
	OpImageUpload
	OpImageDownload
	OpShareUpload
	OpUnshareUpload
	OpDeleteUpload
)

// String returns the wire name of the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpMetadataUpload:
		return "metadata_upload"
	case OpImageUpload:
		return "image_upload"
	case OpImageDownload:
		return "image_download"
	case OpShareUpload:
		return "share_upload"
	case OpUnshareUpload:
		return "unshare_upload"
	case OpDeleteUpload:
		return "delete_upload"
	default:
		return "none"
	}
}

// Op is a chosen operation for one record; Size applies to image ops.
type Op struct {
	Kind OpKind
	Size models.SizeClass
}

// eligible reports whether a record participates in scheduling at all.
func eligible(p *models.Photo) bool {
	if p.Quarantined() || p.NeedsFetch {
		return false
	}
	return p.NeedsNetwork()
}

// fine computes the fine priority level of the most urgent transfer the
// record needs under the given environment.
func fine(p *models.Photo, env Env) int {
	best := fineNone
	bump := func(level int) {
		if level > best {
			best = level
		}
	}

	for _, size := range []models.SizeClass{models.SizeThumbnail, models.SizeFull} {
		switch {
		case p.Transfers[size].Downloading():
			if env.uiWanted(p.ID) {
				bump(fineDownloadUI)
			} else {
				bump(fineDownloadDisplay)
			}
		case p.Transfers[size].Uploading():
			bump(fineUploadDisplay)
		}
	}

	if p.MetadataUpload && p.DirtyFields()&models.MetadataFields != 0 {
		bump(fineUploadMetadata)
	}

	if p.Transfers[models.SizeMedium].Uploading() {
		bump(fineUploadLarge)
	}
	if env.OnWifi {
		if p.Transfers[models.SizeMedium].Downloading() {
			bump(fineDownloadMedium)
		}
		if p.Transfers[models.SizeOriginal].Uploading() {
			bump(fineUploadLarge)
		}
		if p.Transfers[models.SizeOriginal].Downloading() {
			bump(fineDownloadOriginal)
		}
	}
	return best
}

// boost computes the coarse priority tier of a record. Share and
// unshare payloads address the record by server id, so those intents
// lend no boost until one is assigned; the metadata upload that assigns
// it carries the record forward first.
func boost(p *models.Photo, env Env) int {
	addressed := p.ServerID != ""
	switch {
	case env.uiWanted(p.ID) && (p.Transfers[models.SizeThumbnail].Downloading() ||
		p.Transfers[models.SizeFull].Downloading()):
		return BoostUIWait
	case p.DeletePending() || (p.UnsharePending() && addressed):
		return BoostRemove
	case p.SharePending() && addressed && (p.Transfers[models.SizeThumbnail].Uploading() ||
		p.Transfers[models.SizeFull].Uploading()):
		return BoostShareUnsent
	case p.SharePending() && addressed:
		return BoostShareSent
	default:
		return BoostBackground
	}
}

// Score returns the total priority of a record; zero means the record
// has nothing schedulable under this environment.
func Score(p *models.Photo, env Env) int {
	if !eligible(p) {
		return 0
	}
	b := boost(p, env)
	f := fine(p, env)
	if b == 0 && f == 0 {
		return 0
	}
	return b + f
}

// Pick selects the next record to operate on: highest score first, then
// newest timestamp, then ascending local id so that collisions order
// deterministically. Returns nil when nothing is schedulable.
func Pick(photos []*models.Photo, env Env) *models.Photo {
	var best *models.Photo
	bestScore := 0
	for _, p := range photos {
		score := Score(p, env)
		if score == 0 {
			continue
		}
		if best == nil || less(best, bestScore, p, score) {
			best = p
			bestScore = score
		}
	}
	return best
}

// less reports whether candidate (p, score) outranks the current best.
func less(best *models.Photo, bestScore int, p *models.Photo, score int) bool {
	if score != bestScore {
		return score > bestScore
	}
	if p.Timestamp != best.Timestamp {
		return p.Timestamp > best.Timestamp
	}
	return p.ID < best.ID
}

// Rank orders a snapshot of records by scheduling priority, most urgent
// first, dropping unschedulable ones. Used for introspection and tests.
func Rank(photos []*models.Photo, env Env) []*models.Photo {
	type scored struct {
		p     *models.Photo
		score int
	}
	var out []scored
	for _, p := range photos {
		if score := Score(p, env); score > 0 {
			out = append(out, scored{p, score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.p.Timestamp != b.p.Timestamp {
			return a.p.Timestamp > b.p.Timestamp
		}
		return a.p.ID < b.p.ID
	})
	ranked := make([]*models.Photo, len(out))
	for i, s := range out {
		ranked[i] = s.p
	}
	return ranked
}

// Choose materializes the operation to perform for a selected record.
// Delete and unshare outrank everything; a pending metadata upload
// takes strict precedence over the same record's image uploads; within
// image work the fine levels decide, respecting the connection gate.
func Choose(p *models.Photo, env Env) (Op, bool) {
	if !eligible(p) {
		return Op{}, false
	}
	if p.DeletePending() {
		return Op{Kind: OpDeleteUpload}, true
	}
	if p.UnsharePending() && p.ServerID != "" {
		return Op{Kind: OpUnshareUpload}, true
	}

	type cand struct {
		op   Op
		rank int
	}
	var cands []cand
	add := func(op Op, rank int) { cands = append(cands, cand{op, rank}) }

	metadataFirst := p.MetadataUpload && p.DirtyFields()&models.MetadataFields != 0

	for _, size := range []models.SizeClass{models.SizeThumbnail, models.SizeFull} {
		switch {
		case p.Transfers[size].Downloading():
			rank := fineDownloadDisplay
			if env.uiWanted(p.ID) {
				rank = fineDownloadUI
			}
			add(Op{Kind: OpImageDownload, Size: size}, rank)
		case p.Transfers[size].Uploading() && !metadataFirst:
			add(Op{Kind: OpImageUpload, Size: size}, fineUploadDisplay)
		}
	}
	if metadataFirst {
		add(Op{Kind: OpMetadataUpload}, fineUploadMetadata)
	}
	if p.Transfers[models.SizeMedium].Uploading() && !metadataFirst {
		add(Op{Kind: OpImageUpload, Size: models.SizeMedium}, fineUploadLarge)
	}
	if env.OnWifi {
		if p.Transfers[models.SizeMedium].Downloading() {
			add(Op{Kind: OpImageDownload, Size: models.SizeMedium}, fineDownloadMedium)
		}
		if p.Transfers[models.SizeOriginal].Uploading() && !metadataFirst {
			add(Op{Kind: OpImageUpload, Size: models.SizeOriginal}, fineUploadLarge)
		}
		if p.Transfers[models.SizeOriginal].Downloading() {
			add(Op{Kind: OpImageDownload, Size: models.SizeOriginal}, fineDownloadOriginal)
		}
	}

	best := Op{}
	bestRank := -1
	for _, c := range cands {
		if c.rank > bestRank {
			best = c.op
			bestRank = c.rank
		}
	}
	if bestRank >= 0 {
		return best, true
	}

	if p.SharePending() && p.ServerID != "" {
		return Op{Kind: OpShareUpload}, true
	}
	return Op{}, false
}
