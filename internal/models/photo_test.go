// Package models tests for photo record predicates.
package models

import "testing"

// TestDirtyFields verifies the local-minus-acknowledged field set.
func TestDirtyFields(t *testing.T) {
	p := &Photo{}
	p.LocalFields = FieldTimestamp | FieldCaption | FieldLabels
	p.ServerFields = FieldTimestamp

	dirty := p.DirtyFields()
	if !dirty.Has(FieldCaption) || !dirty.Has(FieldLabels) {
		t.Errorf("dirty = %b, want caption and labels", dirty)
	}
	if dirty.Has(FieldTimestamp) {
		t.Error("acknowledged timestamp should not be dirty")
	}
}

// TestSetLocalMarksMetadataUpload verifies that recording a local edit
// re-arms the metadata upload flag while the server is behind.
func TestSetLocalMarksMetadataUpload(t *testing.T) {
	p := &Photo{}
	p.SetLocal(FieldCaption)
	if !p.MetadataUpload {
		t.Error("dirty edit should mark metadata upload")
	}

	// A fully acknowledged field does not re-arm.
	q := &Photo{ServerFields: FieldCaption}
	q.SetLocal(FieldCaption)
	if q.MetadataUpload {
		t.Error("acknowledged edit should not mark metadata upload")
	}

	// Quarantined records never re-arm.
	r := &Photo{}
	r.Labels.Error = true
	r.SetLocal(FieldCaption)
	if r.MetadataUpload {
		t.Error("quarantined record should not mark metadata upload")
	}
}

// TestPendingPredicates verifies share/unshare/delete pending checks.
func TestPendingPredicates(t *testing.T) {
	p := &Photo{Share: &ShareInfo{Timestamp: 10, Recipients: []string{"a"}}}
	if !p.SharePending() {
		t.Error("unacknowledged share should be pending")
	}
	p.ServerFields |= FieldShare
	if p.SharePending() {
		t.Error("acknowledged share should not be pending")
	}

	p.UnshareTime = 20
	if !p.UnsharePending() {
		t.Error("unshare should be pending")
	}
	p.DeleteTime = 30
	if !p.DeletePending() {
		t.Error("delete should be pending")
	}
}

// TestNeedsNetworkQuarantine verifies quarantined records drop out of
// network scheduling entirely.
func TestNeedsNetworkQuarantine(t *testing.T) {
	p := &Photo{MetadataUpload: true}
	p.Transfers.MarkAllUpload()
	if !p.NeedsNetwork() {
		t.Fatal("record with pending work should need network")
	}

	p.Labels.Error = true
	if p.NeedsNetwork() {
		t.Error("quarantined record should not need network")
	}
}

// TestSameRecipients verifies byte-identical recipient comparison.
func TestSameRecipients(t *testing.T) {
	a := &ShareInfo{Recipients: []string{"alice", "bob"}}
	b := &ShareInfo{Recipients: []string{"alice", "bob"}}
	c := &ShareInfo{Recipients: []string{"alice"}}
	d := &ShareInfo{Recipients: []string{"alice", "carol"}}

	if !a.SameRecipients(b) {
		t.Error("identical lists should match")
	}
	if a.SameRecipients(c) || a.SameRecipients(d) {
		t.Error("differing lists should not match")
	}
	var nilShare *ShareInfo
	if nilShare.SameRecipients(a) {
		t.Error("nil vs non-nil should not match")
	}
	if !nilShare.SameRecipients(nil) {
		t.Error("nil vs nil should match")
	}
}

// TestErrorBits verifies one-shot error bookkeeping per kind.
func TestErrorBits(t *testing.T) {
	var e ErrorBits
	e = e.Set(ErrKindUpload)
	if !e.Has(ErrKindUpload) || e.Has(ErrKindDownload) {
		t.Errorf("bits = %b after marking upload", e)
	}
	e = e.Clear(ErrKindUpload)
	if e.Has(ErrKindUpload) {
		t.Error("cleared bit should be unset")
	}
}
