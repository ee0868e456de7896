// Package delivery uploads output files and proves they arrived intact by
// downloading them again and comparing checksums.
package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/roach88/resultexport/internal/failure"
	"github.com/roach88/resultexport/internal/transfer"
	"github.com/roach88/resultexport/internal/telemetry"
)

// Checksum returns the hex SHA-256 of content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Verifier uploads and verifies files over a transfer client.
type Verifier struct {
	client transfer.Client
	sink   telemetry.Sink
}

// NewVerifier creates a Verifier.
func NewVerifier(client transfer.Client, sink telemetry.Sink) *Verifier {
	if sink == nil {
		sink = telemetry.Nop()
	}
	return &Verifier{client: client, sink: sink}
}

// Deliver uploads content to path and verifies it. It returns the
// checksum of the delivered file.
func (v *Verifier) Deliver(ctx context.Context, path string, content []byte) (string, error) {
	if err := v.PutFile(ctx, path, content); err != nil {
		return "", err
	}
	return v.VerifyFileContents(ctx, path, content)
}

// PutFile uploads content to path.
func (v *Verifier) PutFile(ctx context.Context, path string, content []byte) error {
	v.sink.Info("uploading file", telemetry.Fields{"path": path, "bytes": len(content)})
	if err := v.client.PutFile(ctx, path, content); err != nil {
		return failure.Wrap(failure.KindDelivery, "upload failed", err).
			WithDetails(failure.Details{Path: path})
	}
	return nil
}

// VerifyFileContents downloads path and compares its checksum with that
// of content. On a mismatch the upload is deleted; a failed delete is
// returned in place of the mismatch so the caller always sees an error.
func (v *Verifier) VerifyFileContents(ctx context.Context, path string, content []byte) (string, error) {
	want := Checksum(content)

	got, err := v.client.GetFile(ctx, path)
	if err != nil {
		return "", failure.Wrap(failure.KindDelivery, "download for verification failed", err).
			WithDetails(failure.Details{Path: path})
	}

	if have := Checksum(got); have != want {
		v.sink.Event(telemetry.EventChecksumMismatch, telemetry.Fields{
			"path":     path,
			"expected": want,
			"actual":   have,
		})
		if err := v.client.DeleteFile(ctx, path); err != nil {
			v.sink.Error("failed to delete corrupted upload", telemetry.Fields{"path": path, "error": err})
			return "", failure.Wrap(failure.KindDelivery, "delete of corrupted upload failed", err).
				WithDetails(failure.Details{Path: path})
		}
		return "", failure.Wrap(failure.KindDelivery, "uploaded file failed verification", failure.ErrChecksumMismatch).
			WithDetails(failure.Details{Path: path})
	}

	v.sink.Event(telemetry.EventFileUploaded, telemetry.Fields{"path": path, "checksum": want})
	return want, nil
}

// Withdraw deletes a verified upload that could not be committed, so a
// later run reusing the same sequence number never overwrites a file that
// was already delivered.
func (v *Verifier) Withdraw(ctx context.Context, path string) error {
	if err := v.client.DeleteFile(ctx, path); err != nil {
		v.sink.Error("failed to withdraw uncommitted upload", telemetry.Fields{"path": path, "error": err})
		return failure.Wrap(failure.KindDelivery, "delete of uncommitted upload failed", err).
			WithDetails(failure.Details{Path: path})
	}
	v.sink.Warn("withdrew uncommitted upload", telemetry.Fields{"path": path})
	return nil
}
