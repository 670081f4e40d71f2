// Package state tests for failure accounting and quarantine.
package state

import (
	"testing"

	"github.com/viewfinderco/viewfinder/internal/models"
)

// TestMarkLocalCapture verifies a fresh device capture is fully queued
// for upload.
func TestMarkLocalCapture(t *testing.T) {
	p := &models.Photo{}
	MarkLocalCapture(p)

	if !p.Transfers.AnyUpload() {
		t.Error("capture should mark every size for upload")
	}
	if !p.MetadataUpload {
		t.Error("capture should mark metadata upload")
	}
	if !p.Labels.Owned {
		t.Error("capture should set the owned label")
	}
}

// TestMarkRemoteNew verifies only the advertised sizes queue for
// download and in-flight states are left alone.
func TestMarkRemoteNew(t *testing.T) {
	p := &models.Photo{}
	p.Transfers[models.SizeFull] = models.TransferDownloading

	MarkRemoteNew(p, []models.SizeClass{models.SizeThumbnail, models.SizeFull})

	if p.Transfers[models.SizeThumbnail] != models.TransferPendingDownload {
		t.Errorf("thumbnail = %v, want pending_download", p.Transfers[models.SizeThumbnail])
	}
	if p.Transfers[models.SizeFull] != models.TransferDownloading {
		t.Error("in-flight download should not be reset")
	}
	if p.Transfers[models.SizeOriginal] != models.TransferIdle {
		t.Error("unadvertised size should stay idle")
	}
}

// TestApplyAssetError verifies a device-asset failure drops one size
// from the upload set without quarantining.
func TestApplyAssetError(t *testing.T) {
	p := &models.Photo{}
	MarkLocalCapture(p)

	ApplyAssetError(p, models.SizeOriginal)

	if !p.AssetErrors[models.SizeOriginal] {
		t.Error("asset error should be recorded per size")
	}
	if p.Transfers[models.SizeOriginal] != models.TransferIdle {
		t.Error("errored size should go idle")
	}
	if p.Quarantined() {
		t.Error("asset error alone should not quarantine")
	}
	if p.Transfers[models.SizeThumbnail] != models.TransferPendingUpload {
		t.Error("other sizes keep their upload intent")
	}
}

// TestApplyFailureUploadResetsAxis verifies the first upload failure
// restarts the whole upload cycle, metadata included.
func TestApplyFailureUploadResetsAxis(t *testing.T) {
	p := &models.Photo{ServerID: "s-1"}
	p.ServerFields = models.FieldTimestamp | models.FieldCaption
	p.Transfers[models.SizeThumbnail] = models.TransferUploading

	if quarantined := ApplyFailure(p, models.ErrKindUpload); quarantined {
		t.Fatal("first failure should not quarantine")
	}

	if p.ServerID != "" {
		t.Error("upload failure should clear the server id")
	}
	if p.ServerFields != 0 {
		t.Error("upload failure should clear acknowledged fields")
	}
	if !p.MetadataUpload {
		t.Error("upload failure should re-arm metadata upload")
	}
	for _, size := range models.SizeClasses {
		if p.Transfers[size] != models.TransferPendingUpload {
			t.Errorf("size %v = %v, want pending_upload", size, p.Transfers[size])
		}
	}
	if !p.Errors.Has(models.ErrKindUpload) {
		t.Error("error bit should be set")
	}
}

// TestApplyFailureDownloadResetsAxis verifies the download axis resets
// without touching server identity.
func TestApplyFailureDownloadResetsAxis(t *testing.T) {
	p := &models.Photo{ServerID: "s-1"}
	p.Transfers[models.SizeThumbnail] = models.TransferDownloading

	ApplyFailure(p, models.ErrKindDownload)

	if p.ServerID != "s-1" {
		t.Error("download failure should keep the server id")
	}
	if !p.Transfers.AnyDownload() {
		t.Error("download axis should be re-marked")
	}
}

// TestApplyFailurePreservesOppositeAxis verifies a failure resets only
// its own direction on a record with mixed transfer intent.
func TestApplyFailurePreservesOppositeAxis(t *testing.T) {
	p := &models.Photo{ServerID: "s-1"}
	p.Transfers[models.SizeThumbnail] = models.TransferPendingDownload
	p.Transfers[models.SizeFull] = models.TransferUploading

	ApplyFailure(p, models.ErrKindUpload)

	if p.Transfers[models.SizeThumbnail] != models.TransferPendingDownload {
		t.Errorf("thumbnail = %v, upload failure should leave download intent alone",
			p.Transfers[models.SizeThumbnail])
	}
	if p.Transfers[models.SizeFull] != models.TransferPendingUpload {
		t.Errorf("full = %v, want pending_upload", p.Transfers[models.SizeFull])
	}

	q := &models.Photo{ServerID: "s-2"}
	q.Transfers[models.SizeThumbnail] = models.TransferDownloading
	q.Transfers[models.SizeMedium] = models.TransferPendingUpload

	ApplyFailure(q, models.ErrKindDownload)

	if q.Transfers[models.SizeMedium] != models.TransferPendingUpload {
		t.Errorf("medium = %v, download failure should leave upload intent alone",
			q.Transfers[models.SizeMedium])
	}
	if q.Transfers[models.SizeThumbnail] != models.TransferPendingDownload {
		t.Errorf("thumbnail = %v, want pending_download", q.Transfers[models.SizeThumbnail])
	}
}

// TestSecondFailureQuarantines verifies the two-strike rule per kind.
func TestSecondFailureQuarantines(t *testing.T) {
	p := &models.Photo{}
	MarkLocalCapture(p)

	if ApplyFailure(p, models.ErrKindUpload) {
		t.Fatal("first strike should not quarantine")
	}
	if !ApplyFailure(p, models.ErrKindUpload) {
		t.Fatal("second strike of the same kind should quarantine")
	}

	if !p.Quarantined() {
		t.Error("quarantined record should carry the error label")
	}
	if !p.Transfers.Idle() || p.MetadataUpload {
		t.Error("quarantine should clear all transfer intent")
	}
	if p.NeedsNetwork() {
		t.Error("quarantined record should not need network")
	}
}

// TestFailuresOfDifferentKindsDoNotQuarantine verifies strikes are
// counted per kind, not globally.
func TestFailuresOfDifferentKindsDoNotQuarantine(t *testing.T) {
	p := &models.Photo{}
	MarkLocalCapture(p)

	if ApplyFailure(p, models.ErrKindUpload) {
		t.Fatal("first upload strike should not quarantine")
	}
	if ApplyFailure(p, models.ErrKindShare) {
		t.Fatal("first share strike should not quarantine")
	}
	if p.Quarantined() {
		t.Error("different kinds should not combine into quarantine")
	}
}

// TestApplySuccessClearsStrike verifies a success resets the one-shot
// bit so a later failure is a first strike again.
func TestApplySuccessClearsStrike(t *testing.T) {
	p := &models.Photo{}
	MarkLocalCapture(p)

	ApplyFailure(p, models.ErrKindUpload)
	ApplySuccess(p, models.ErrKindUpload)

	if ApplyFailure(p, models.ErrKindUpload) {
		t.Error("failure after success should count as a first strike")
	}
}

// TestResetErrors verifies the epoch reset clears every error but
// leaves transfer intent to the caller.
func TestResetErrors(t *testing.T) {
	p := &models.Photo{}
	MarkLocalCapture(p)
	ApplyAssetError(p, models.SizeFull)
	ApplyFailure(p, models.ErrKindUpload)
	ApplyFailure(p, models.ErrKindUpload)

	ResetErrors(p)

	if p.Quarantined() {
		t.Error("reset should clear the error label")
	}
	if p.Errors != 0 {
		t.Error("reset should clear error bits")
	}
	for _, size := range models.SizeClasses {
		if p.AssetErrors[size] {
			t.Errorf("reset should clear asset error for %v", size)
		}
	}
}
