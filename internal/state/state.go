// Package state implements the per-record transfer state machine:
// lifecycle initialization, failure accounting and quarantine.
package state

import (
	"github.com/viewfinderco/viewfinder/internal/models"
)

// MarkLocalCapture initializes a photo created from the device library:
// fully local, every size marked for upload, metadata push pending.
func MarkLocalCapture(p *models.Photo) {
	p.Transfers.MarkAllUpload()
	p.MetadataUpload = true
	p.Labels.Owned = true
	p.LocalFields |= models.FieldTimestamp | models.FieldAspectRatio | models.FieldLabels
	if p.Location.Valid() {
		p.LocalFields |= models.FieldLocation
	}
}

// MarkRemoteNew initializes a photo first seen through a server update:
// known server id, the listed sizes marked for download.
func MarkRemoteNew(p *models.Photo, available []models.SizeClass) {
	for _, size := range available {
		if p.Transfers[size] == models.TransferIdle {
			p.Transfers[size] = models.TransferPendingDownload
		}
	}
}

// ApplyAssetError records a device-asset failure for one size class.
// Asset errors are tracked per size and do not by themselves quarantine
// the record; the affected size simply drops out of the upload set.
func ApplyAssetError(p *models.Photo, size models.SizeClass) {
	p.AssetErrors[size] = true
	p.Transfers[size] = models.TransferIdle
}

// ApplyFailure records an upload/download failure of the given kind and
// returns whether the record was quarantined.
//
// The first failure of a kind is a one-shot: the error bit is set and
// the failed axis resets to retry from scratch, leaving sizes moving in
// the opposite direction untouched. An upload failure also clears the
// server id and acknowledged fields so metadata is re-sent before image
// bytes. A second failure of an already-marked kind quarantines the
// record.
func ApplyFailure(p *models.Photo, kind models.ErrorKind) (quarantined bool) {
	if p.Errors.Has(kind) {
		Quarantine(p)
		return true
	}
	p.Errors = p.Errors.Set(kind)

	switch kind {
	case models.ErrKindMetadata, models.ErrKindUpload:
		p.Transfers.RestartUploads()
		p.MetadataUpload = true
		p.ServerID = ""
		p.ServerFields = 0
	case models.ErrKindDownload:
		p.Transfers.RestartDownloads()
	case models.ErrKindShare, models.ErrKindUnshare, models.ErrKindDelete:
		// Share-family failures carry no transfer axis to reset; the
		// pending intent stays and will be retried.
	}
	return false
}

// ApplySuccess clears the one-shot error bit for an operation kind that
// has just completed.
func ApplySuccess(p *models.Photo, kind models.ErrorKind) {
	p.Errors = p.Errors.Clear(kind)
}

// Quarantine puts the record in its terminal error state: all transfer
// intent cleared, the persistent error label set, removed from
// scheduling until an explicit reset-errors epoch bump.
func Quarantine(p *models.Photo) {
	p.Transfers.Clear()
	p.MetadataUpload = false
	p.Labels.Error = true
	p.LocalFields |= models.FieldLabels
}

// ResetErrors clears all error state of a record during an app-wide
// error-reset epoch bump. The caller decides what transfer intent to
// restore afterwards.
func ResetErrors(p *models.Photo) {
	p.Labels.Error = false
	p.Errors = 0
	for i := range p.AssetErrors {
		p.AssetErrors[i] = false
	}
}
