package verifyimage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sigstore/cosign/v2/pkg/cosign"
	"github.com/sigstore/cosign/v2/pkg/signature"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

var log = logf.Log.WithName("verifyimage")

// ParseReference checks that image is a well-formed registry reference.
func ParseReference(image string) (name.Reference, error) {
	img := strings.TrimSpace(image)
	if img == "" {
		return nil, errors.New("empty image")
	}
	if strings.HasSuffix(img, ".sig") && strings.Contains(img, ":sha256-") {
		return nil, fmt.Errorf("image %q looks like a cosign signature artifact tag; verify the real image tag or digest instead", img)
	}
	ref, err := name.ParseReference(img)
	if err != nil {
		return nil, fmt.Errorf("invalid image reference %q: %w", img, err)
	}
	return ref, nil
}

type Config struct {
	// PublicKeyPath is a cosign key reference understood by
	// signature.LoadPublicKey (file path, k8s://ns/secret, KMS URI).
	PublicKeyPath string

	// IgnoreTlog skips transparency log verification when the Rekor public
	// keys cannot be loaded.
	IgnoreTlog bool

	Timeout time.Duration
}

// Verifier checks cosign signatures of workload images before they are
// scheduled into a tenant namespace.
type Verifier struct {
	cfg Config
}

func New(cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.PublicKeyPath) == "" {
		return nil, errors.New("cosign public key reference is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Verifier{cfg: cfg}, nil
}

func (v *Verifier) checkOpts(ctx context.Context) (*cosign.CheckOpts, error) {
	verifier, err := signature.LoadPublicKey(ctx, v.cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load cosign public key %q: %w", v.cfg.PublicKeyPath, err)
	}
	co := &cosign.CheckOpts{SigVerifier: verifier}

	rekorPubs, err := cosign.GetRekorPubs(ctx)
	switch {
	case err == nil:
		co.RekorPubKeys = rekorPubs
	case v.cfg.IgnoreTlog:
		co.IgnoreTlog = true
		log.Info("cannot load Rekor public keys, skipping tlog verification", "error", err.Error())
	default:
		return nil, fmt.Errorf("cannot load Rekor public keys (needed to verify bundle): %w", err)
	}
	return co, nil
}

// Verify returns nil only if image carries a valid signature for the
// configured key.
func (v *Verifier) Verify(ctx context.Context, image string) error {
	ref, err := ParseReference(image)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	co, err := v.checkOpts(ctx)
	if err != nil {
		return err
	}

	if _, _, err := cosign.VerifyImageSignatures(ctx, ref, co); err != nil {
		return fmt.Errorf("verify failed for %q: %w", image, err)
	}
	return nil
}
