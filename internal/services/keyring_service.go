package services

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/jonmaxmore/Botanical-Audit-Framework-sub003/internal/models"
)

// KeyringService is the local custody of private key material (secp256k1).
// Records and DynamoDB only ever see the public half; this service is the
// only place a private key exists. In deployments with an HSM/KMS this file
// is the piece that gets swapped out.
type KeyringService struct {
	mu           sync.RWMutex
	keys         map[int]*ecdsa.PrivateKey
	materialPath string
}

// NewKeyringService creates a keyring, loading existing key material from
// materialPath when the file exists. An empty path keeps the keyring
// memory-only (tests, ephemeral environments).
func NewKeyringService(materialPath string) (*KeyringService, error) {
	ks := &KeyringService{
		keys:         make(map[int]*ecdsa.PrivateKey),
		materialPath: materialPath,
	}

	if materialPath != "" {
		if err := ks.loadMaterial(); err != nil {
			return nil, fmt.Errorf("loading key material: %w", err)
		}
	}

	return ks, nil
}

// GenerateKeypair creates the private key for a new version and returns the
// uncompressed public key, hex-encoded, for the key store.
func (ks *KeyringService) GenerateKeypair(version int) (string, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generating keypair for version %d: %w", version, err)
	}

	ks.mu.Lock()
	ks.keys[version] = priv
	ks.mu.Unlock()

	if err := ks.persistMaterial(); err != nil {
		// Key stays usable in memory; a restart would lose it, so say so loudly.
		log.Printf("⚠️ Failed to persist key material for version %d: %v", version, err)
	}

	return hex.EncodeToString(crypto.FromECDSAPub(&priv.PublicKey)), nil
}

// SignDigest signs a 32-byte digest with the private key of the given
// version and returns the hex-encoded signature.
func (ks *KeyringService) SignDigest(version int, digest []byte) (string, error) {
	ks.mu.RLock()
	priv, ok := ks.keys[version]
	ks.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("version %d: %w", version, models.ErrKeyMaterialMissing)
	}

	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return "", fmt.Errorf("signing digest with key version %d: %w", version, err)
	}

	return hex.EncodeToString(sig), nil
}

// VerifyDigest checks a signature against a hex-encoded public key. Needs no
// private material, so it works for any historical key version.
func (ks *KeyringService) VerifyDigest(publicKeyHex string, digest []byte, signatureHex string) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	// crypto.Sign appends a recovery id byte that VerifySignature rejects.
	if len(sig) == 65 {
		sig = sig[:64]
	}
	if len(sig) != 64 {
		return false
	}
	return crypto.VerifySignature(pub, digest, sig)
}

// HasVersion reports whether private material exists for a version.
func (ks *KeyringService) HasVersion(version int) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, ok := ks.keys[version]
	return ok
}

// loadMaterial reads the version→hex private key map from disk.
func (ks *KeyringService) loadMaterial() error {
	raw, err := os.ReadFile(ks.materialPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var material map[string]string
	if err := json.Unmarshal(raw, &material); err != nil {
		return fmt.Errorf("parsing key material file: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	for versionStr, hexKey := range material {
		var version int
		if _, err := fmt.Sscanf(versionStr, "%d", &version); err != nil {
			return fmt.Errorf("invalid key version %q in material file", versionStr)
		}
		priv, err := crypto.HexToECDSA(hexKey)
		if err != nil {
			return fmt.Errorf("invalid private key for version %d: %w", version, err)
		}
		ks.keys[version] = priv
	}

	log.Printf("✅ Loaded key material for %d version(s)", len(material))
	return nil
}

// persistMaterial writes the keyring back to disk with owner-only
// permissions. No-op for memory-only keyrings.
func (ks *KeyringService) persistMaterial() error {
	if ks.materialPath == "" {
		return nil
	}

	ks.mu.RLock()
	material := make(map[string]string, len(ks.keys))
	for version, priv := range ks.keys {
		material[fmt.Sprintf("%d", version)] = hex.EncodeToString(crypto.FromECDSA(priv))
	}
	ks.mu.RUnlock()

	raw, err := json.Marshal(material)
	if err != nil {
		return err
	}

	return os.WriteFile(ks.materialPath, raw, 0o600)
}
