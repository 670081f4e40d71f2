// Package models provides data model definitions for the Viewfinder sync engine.
package models

// SizeClass identifies one of the image resolutions a photo is stored at.
type SizeClass int

const (
	SizeThumbnail SizeClass = iota
	SizeMedium
	SizeFull
	SizeOriginal

	// NumSizes is the number of size classes.
	NumSizes
)

// SizeClasses lists all size classes in ascending resolution order.
var SizeClasses = [NumSizes]SizeClass{SizeThumbnail, SizeMedium, SizeFull, SizeOriginal}

// String returns the wire name of the size class.
func (s SizeClass) String() string {
	switch s {
	case SizeThumbnail:
		return "thumbnail"
	case SizeMedium:
		return "medium"
	case SizeFull:
		return "full"
	case SizeOriginal:
		return "original"
	default:
		return "unknown"
	}
}

// TransferState is the per-size-class transfer state of a photo.
// A size class is either idle or moving in exactly one direction, so a
// photo can never be queued to upload and download the same resolution.
type TransferState int

const (
	TransferIdle TransferState = iota
	TransferPendingUpload
	TransferUploading
	TransferPendingDownload
	TransferDownloading
)

// String returns a short name for the transfer state.
func (t TransferState) String() string {
	switch t {
	case TransferIdle:
		return "idle"
	case TransferPendingUpload:
		return "pending_upload"
	case TransferUploading:
		return "uploading"
	case TransferPendingDownload:
		return "pending_download"
	case TransferDownloading:
		return "downloading"
	default:
		return "unknown"
	}
}

// Uploading reports whether the state is an upload-direction state.
func (t TransferState) Uploading() bool {
	return t == TransferPendingUpload || t == TransferUploading
}

// Downloading reports whether the state is a download-direction state.
func (t TransferState) Downloading() bool {
	return t == TransferPendingDownload || t == TransferDownloading
}

// Transfers holds the transfer state for every size class of a photo.
type Transfers [NumSizes]TransferState

// AnyUpload reports whether any size class still needs uploading.
func (tr *Transfers) AnyUpload() bool {
	for _, t := range tr {
		if t.Uploading() {
			return true
		}
	}
	return false
}

// AnyDownload reports whether any size class still needs downloading.
func (tr *Transfers) AnyDownload() bool {
	for _, t := range tr {
		if t.Downloading() {
			return true
		}
	}
	return false
}

// Idle reports whether no size class has transfer intent.
func (tr *Transfers) Idle() bool {
	return !tr.AnyUpload() && !tr.AnyDownload()
}

// Clear resets every size class to idle.
func (tr *Transfers) Clear() {
	for i := range tr {
		tr[i] = TransferIdle
	}
}

// MarkAllUpload marks every size class as pending upload.
func (tr *Transfers) MarkAllUpload() {
	for i := range tr {
		tr[i] = TransferPendingUpload
	}
}

// MarkAllDownload marks every size class as pending download.
func (tr *Transfers) MarkAllDownload() {
	for i := range tr {
		tr[i] = TransferPendingDownload
	}
}

// RestartUploads marks every size class not carrying download intent as
// pending upload. Sizes moving in the download direction keep that
// intent.
func (tr *Transfers) RestartUploads() {
	for i := range tr {
		if !tr[i].Downloading() {
			tr[i] = TransferPendingUpload
		}
	}
}

// RestartDownloads marks every size class not carrying upload intent as
// pending download. Sizes moving in the upload direction keep that
// intent.
func (tr *Transfers) RestartDownloads() {
	for i := range tr {
		if !tr[i].Uploading() {
			tr[i] = TransferPendingDownload
		}
	}
}
