package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/oklog/ulid/v2"

	"quenyan.dev/qyn1/envelope"
	"quenyan.dev/qyn1/qyn1"
)

// ProjectSaltSize is the size of a freshly rotated project salt.
const ProjectSaltSize = 32

// ErrNoProject means no rotation state exists yet for the project.
var ErrNoProject = errors.New("keys: project has no rotation state")

// SaltStore is the local filesystem home for the installation salt and the
// per-project salt generations. Directories are 0700, files 0600.
type SaltStore struct {
	Directory string
}

// RotationState is the current salt generation for one project. The
// previous salt is retained for one generation so packages sealed just
// before a rotation stay readable during rollover.
type RotationState struct {
	ProjectID          string `cbor:"project_id"`
	Generation         uint32 `cbor:"generation"`
	ProjectSalt        []byte `cbor:"project_salt"`
	PreviousGeneration uint32 `cbor:"previous_generation,omitempty"`
	PreviousSalt       []byte `cbor:"previous_salt,omitempty"`
	RotatedAt          string `cbor:"rotated_at"`
}

// AuditEvent records one rotation.
type AuditEvent struct {
	ID         string `cbor:"id"`
	ProjectID  string `cbor:"project_id"`
	Generation uint32 `cbor:"generation"`
	Action     string `cbor:"action"`
	At         string `cbor:"at"`
}

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".qyn1", "keys"), nil
}

func OpenSaltStore(directory string) (*SaltStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, err
	}
	return &SaltStore{Directory: directory}, nil
}

// CheckProjectID restricts project ids to path-safe characters.
func CheckProjectID(projectID string) error {
	if projectID == "" {
		return errors.New("project id cannot be empty")
	}
	for _, char := range projectID {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in project id", char)
	}
	return nil
}

// ParseSaltHex decodes a hex salt string, tolerating whitespace and an 0x
// prefix.
func ParseSaltHex(saltHex string) ([]byte, error) {
	saltHex = strings.TrimSpace(saltHex)
	saltHex = strings.TrimPrefix(saltHex, "0x")
	data, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, err
	}
	if len(data) < envelope.MinSaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes, got %d", envelope.MinSaltSize, len(data))
	}
	return data, nil
}

func (s *SaltStore) installSaltPath() string {
	return filepath.Join(s.Directory, "install.salt")
}

func (s *SaltStore) statePath(projectID string) string {
	return filepath.Join(s.Directory, "projects", projectID, "state.cbor")
}

func (s *SaltStore) auditPath(projectID string) string {
	return filepath.Join(s.Directory, "projects", projectID, "audit.cbor")
}

func (s *SaltStore) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// InstallSalt returns the installation salt, creating it on first use. The
// salt is public; it exists so two installations with the same passphrase
// derive different master keys.
func (s *SaltStore) InstallSalt() ([]byte, error) {
	path := s.installSaltPath()
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseSaltHex(string(data))
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	salt, err := envelope.NewSalt(envelope.MinSaltSize)
	if err != nil {
		return nil, err
	}
	if err := s.writeFile(path, []byte(hex.EncodeToString(salt)+"\n")); err != nil {
		return nil, err
	}
	return salt, nil
}

// State returns the current rotation state for a project, or ErrNoProject.
func (s *SaltStore) State(projectID string) (*RotationState, error) {
	if err := CheckProjectID(projectID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.statePath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoProject
		}
		return nil, err
	}
	var state RotationState
	if err := cbor.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt rotation state for %s: %w", projectID, err)
	}
	return &state, nil
}

// Rotate advances the project to a fresh salt generation. The first call
// creates generation 1. Every rotation appends an audit event.
func (s *SaltStore) Rotate(projectID string) (*RotationState, error) {
	if err := CheckProjectID(projectID); err != nil {
		return nil, err
	}
	salt, err := envelope.NewSalt(ProjectSaltSize)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)

	state := &RotationState{ProjectID: projectID, Generation: 1, ProjectSalt: salt, RotatedAt: now}
	if prev, err := s.State(projectID); err == nil {
		state.Generation = prev.Generation + 1
		state.PreviousGeneration = prev.Generation
		state.PreviousSalt = prev.ProjectSalt
	} else if !errors.Is(err, ErrNoProject) {
		return nil, err
	}

	blob, err := cbor.Marshal(state)
	if err != nil {
		return nil, err
	}
	if err := s.writeFile(s.statePath(projectID), blob); err != nil {
		return nil, err
	}
	if err := s.appendAudit(AuditEvent{
		ID:         ulid.Make().String(),
		ProjectID:  projectID,
		Generation: state.Generation,
		Action:     "rotate",
		At:         now,
	}); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SaltStore) appendAudit(event AuditEvent) error {
	events, err := s.Audit(event.ProjectID)
	if err != nil {
		return err
	}
	events = append(events, event)
	blob, err := cbor.Marshal(events)
	if err != nil {
		return err
	}
	return s.writeFile(s.auditPath(event.ProjectID), blob)
}

// Audit returns the rotation history for a project, oldest first.
func (s *SaltStore) Audit(projectID string) ([]AuditEvent, error) {
	if err := CheckProjectID(projectID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.auditPath(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []AuditEvent
	if err := cbor.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("corrupt audit log for %s: %w", projectID, err)
	}
	return events, nil
}

// Projects lists the project ids with rotation state, sorted.
func (s *SaltStore) Projects() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Directory, "projects"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Keychain assembles an encoding keychain from stored salts: the
// installation salt plus the project's current generation. The passphrase
// stays with the caller.
func (s *SaltStore) Keychain(projectID string, passphrase []byte) (*qyn1.Keychain, error) {
	installSalt, err := s.InstallSalt()
	if err != nil {
		return nil, err
	}
	state, err := s.State(projectID)
	if err != nil {
		return nil, err
	}
	return &qyn1.Keychain{
		Passphrase:            passphrase,
		InstallSalt:           installSalt,
		ProjectID:             projectID,
		ProjectSalt:           state.ProjectSalt,
		ProjectSaltGeneration: state.Generation,
	}, nil
}
