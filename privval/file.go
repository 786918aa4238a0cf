package privval

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/creachadair/atomicfile"

	"github.com/acp0/acp0/crypto/secp256k1"
)

// FileKey is an agent identity together with its signing key.
type FileKey struct {
	AgentID string
	PrivKey secp256k1.PrivKey

	filePath string
}

type fileKeyJSON struct {
	AgentID    string `json:"agent_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func (k FileKey) MarshalJSON() ([]byte, error) {
	if len(k.PrivKey) == 0 {
		return nil, errors.New("missing private key")
	}
	return json.Marshal(fileKeyJSON{
		AgentID:    k.AgentID,
		PublicKey:  k.PublicKey(),
		PrivateKey: k.PrivKey.Armor(),
	})
}

func (k *FileKey) UnmarshalJSON(data []byte) error {
	var key fileKeyJSON
	if err := json.Unmarshal(data, &key); err != nil {
		return err
	}
	privKey, err := secp256k1.PrivKeyFromArmored(key.PrivateKey)
	if err != nil {
		return fmt.Errorf("decoding private key: %w", err)
	}
	if key.PublicKey != "" && key.PublicKey != privKey.PubKey().Armor() {
		return errors.New("public key does not match private key")
	}
	k.AgentID = key.AgentID
	k.PrivKey = privKey
	return nil
}

// PublicKey returns the armored public key agents publish in messages.
func (k FileKey) PublicKey() string {
	return k.PrivKey.PubKey().Armor()
}

// FilePath returns where the key is saved, if anywhere.
func (k FileKey) FilePath() string { return k.filePath }

// Save persists the key to its file path with owner-only permissions.
func (k FileKey) Save() error {
	outFile := k.filePath
	if outFile == "" {
		return errors.New("cannot save agent key: filePath not set")
	}
	return k.WriteTo(outFile)
}

// WriteTo writes the key to path, replacing any existing file atomically.
func (k FileKey) WriteTo(path string) error {
	data, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	_, err = atomicfile.WriteAll(path, bytes.NewReader(data), 0600)
	return err
}

// GenFileKey generates a new key for agentID that will be saved to
// filePath. It does not write the file.
func GenFileKey(filePath, agentID string) *FileKey {
	return &FileKey{
		AgentID:  agentID,
		PrivKey:  secp256k1.GenPrivKey(),
		filePath: filePath,
	}
}

// LoadFileKey reads a key saved by Save.
func LoadFileKey(filePath string) (*FileKey, error) {
	keyJSONBytes, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	key := new(FileKey)
	if err := json.Unmarshal(keyJSONBytes, key); err != nil {
		return nil, fmt.Errorf("error reading agent key from %v: %w", filePath, err)
	}
	if key.AgentID == "" {
		return nil, fmt.Errorf("agent key at %v has no agent id", filePath)
	}
	key.filePath = filePath
	return key, nil
}

// LoadOrGenFileKey loads the key at filePath, or generates and saves one for
// agentID if the file does not exist.
func LoadOrGenFileKey(filePath, agentID string) (*FileKey, error) {
	key, err := LoadFileKey(filePath)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key = GenFileKey(filePath, agentID)
	if err := key.Save(); err != nil {
		return nil, err
	}
	return key, nil
}
