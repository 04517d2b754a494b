package profile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/josefmoeggis/RobotGUI/config"
	"github.com/josefmoeggis/RobotGUI/internal/rover/core"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Common error messages
const (
	ErrNoCurrentProfile    = "no current profile set. Please run 'rover profile use' to select one first"
	ErrProfileNotFound     = "profile '%s' not found"
	ErrCannotDeleteCurrent = "cannot delete the currently active profile, please switch to another profile first"
)

// ProfileConfig is the on-disk layout of the profile file
type ProfileConfig struct {
	Current  string             `toml:"current"`
	Profiles map[string]Profile `toml:"profiles"`
}

// Profile is a saved vehicle: where its control channel and video live
type Profile struct {
	ControlHost string `toml:"control_host" json:"control_host"`
	ControlPort int    `toml:"control_port" json:"control_port"`
	Transport   string `toml:"transport,omitempty" json:"transport,omitempty"`
	VideoHost   string `toml:"video_host,omitempty" json:"video_host,omitempty"`
	VideoPort   int    `toml:"video_port,omitempty" json:"video_port,omitempty"`
	VideoMode   string `toml:"video_mode,omitempty" json:"video_mode,omitempty"`
}

// Control returns the control endpoint of the profile.
func (p Profile) Control() core.Endpoint {
	return core.Endpoint{Host: p.ControlHost, Port: p.ControlPort}
}

// Video returns the video endpoint, falling back to the control host.
func (p Profile) Video() core.Endpoint {
	host := p.VideoHost
	if host == "" {
		host = p.ControlHost
	}
	port := p.VideoPort
	if port == 0 {
		port = config.GetVideoPort()
	}
	return core.Endpoint{Host: host, Port: port}
}

func (p Profile) validate() error {
	if err := p.Control().Validate(); err != nil {
		return err
	}
	if p.Transport != "" && p.Transport != "ws" && p.Transport != "tcp" {
		return errors.Errorf("unknown transport %q", p.Transport)
	}
	switch p.VideoMode {
	case "", "push", "pull", "mjpeg":
	default:
		return errors.Errorf("unknown video mode %q", p.VideoMode)
	}
	return nil
}

// Manager manages the profile file
type Manager struct {
	config ProfileConfig
	path   string
}

// NewManager creates a Manager for the configured profile path
func NewManager() *Manager {
	return NewManagerAt(config.GetProfilePath())
}

// NewManagerAt creates a Manager backed by the file at path
func NewManagerAt(path string) *Manager {
	return &Manager{
		config: ProfileConfig{Profiles: make(map[string]Profile)},
		path:   path,
	}
}

// Path returns the backing file
func (pm *Manager) Path() string {
	return pm.path
}

// Load loads profiles from file. A missing file is an empty profile set.
func (pm *Manager) Load() error {
	data, err := os.ReadFile(pm.path)
	if os.IsNotExist(err) {
		pm.config = ProfileConfig{Profiles: make(map[string]Profile)}
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read profile file")
	}

	cfg := ProfileConfig{}
	if len(data) > 0 {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return errors.Wrap(err, "failed to parse profile file")
		}
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	if _, ok := cfg.Profiles[cfg.Current]; !ok && cfg.Current != "" {
		util.ComponentLogger("profile").WithField("current", cfg.Current).Warn("Current profile does not exist, clearing it")
		cfg.Current = ""
	}
	pm.config = cfg
	return nil
}

// Save saves profiles to file
func (pm *Manager) Save() error {
	if err := os.MkdirAll(filepath.Dir(pm.path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := toml.Marshal(pm.config)
	if err != nil {
		return errors.Wrap(err, "failed to serialize profile data")
	}

	if err := os.WriteFile(pm.path, data, 0o600); err != nil {
		return errors.Wrap(err, "failed to write profile file")
	}
	return nil
}

// Add stores p under a normalized, unique id and returns the id. The first
// profile added becomes current.
func (pm *Manager) Add(id string, p Profile) (string, error) {
	if p.Transport == "" {
		p.Transport = config.GetControlTransport()
	}
	if err := p.validate(); err != nil {
		return "", err
	}

	if id == "" {
		id = p.ControlHost
	}
	id = normalizeID(id)

	originalID := id
	for counter := 1; ; counter++ {
		if _, exists := pm.config.Profiles[id]; !exists {
			break
		}
		if pm.config.Profiles[id] == p {
			return id, nil
		}
		id = fmt.Sprintf("%s-%d", originalID, counter)
	}

	pm.config.Profiles[id] = p
	if pm.config.Current == "" {
		pm.config.Current = id
	}
	return id, nil
}

// Use makes id the current profile
func (pm *Manager) Use(id string) error {
	if _, ok := pm.config.Profiles[id]; !ok {
		return errors.Errorf(ErrProfileNotFound, id)
	}
	pm.config.Current = id
	return nil
}

// Remove deletes a profile that is not current
func (pm *Manager) Remove(id string) error {
	if _, ok := pm.config.Profiles[id]; !ok {
		return errors.Errorf(ErrProfileNotFound, id)
	}
	if id == pm.config.Current && len(pm.config.Profiles) > 1 {
		return errors.New(ErrCannotDeleteCurrent)
	}
	delete(pm.config.Profiles, id)
	if id == pm.config.Current {
		pm.config.Current = ""
	}
	return nil
}

// Current returns the current profile and its id
func (pm *Manager) Current() (string, Profile, error) {
	if pm.config.Current == "" {
		return "", Profile{}, errors.New(ErrNoCurrentProfile)
	}
	return pm.config.Current, pm.config.Profiles[pm.config.Current], nil
}

// Get returns the profile named id
func (pm *Manager) Get(id string) (Profile, error) {
	p, ok := pm.config.Profiles[id]
	if !ok {
		return Profile{}, errors.Errorf(ErrProfileNotFound, id)
	}
	return p, nil
}

// IDs returns the profile ids in sorted order
func (pm *Manager) IDs() []string {
	ids := make([]string, 0, len(pm.config.Profiles))
	for id := range pm.config.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List writes the profiles as a table, or as JSON when format is "json"
func (pm *Manager) List(w io.Writer, format string) error {
	if format == "json" {
		return pm.listJSON(w)
	}
	if len(pm.config.Profiles) == 0 {
		fmt.Fprintln(w, "No profiles found")
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	columns := []util.TableColumn{
		{Header: "ID", Key: "id"},
		{Header: "CONTROL", Key: "control"},
		{Header: "TRANSPORT", Key: "transport"},
		{Header: "VIDEO", Key: "video"},
		{Header: "MODE", Key: "mode"},
	}
	rows := make([]map[string]interface{}, 0, len(pm.config.Profiles))
	for _, id := range pm.IDs() {
		p := pm.config.Profiles[id]
		display := "  " + id
		if id == pm.config.Current {
			display = green("→ " + id)
		}
		mode := p.VideoMode
		if mode == "" {
			mode = "push"
		}
		rows = append(rows, map[string]interface{}{
			"id":        display,
			"control":   p.Control().String(),
			"transport": p.Transport,
			"video":     p.Video().String(),
			"mode":      mode,
		})
	}
	util.RenderTable(w, columns, rows)
	return nil
}

type listedProfile struct {
	ID      string `json:"id"`
	Current bool   `json:"current"`
	Profile
}

func (pm *Manager) listJSON(w io.Writer) error {
	out := make([]listedProfile, 0, len(pm.config.Profiles))
	for _, id := range pm.IDs() {
		out = append(out, listedProfile{
			ID:      id,
			Current: id == pm.config.Current,
			Profile: pm.config.Profiles[id],
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(out), "encode profiles")
}

// normalizeID normalizes an ID string
func normalizeID(id string) string {
	normalized := strings.ToLower(id)
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, ".", "-")

	var result strings.Builder
	for _, char := range normalized {
		if (char >= 'a' && char <= 'z') || (char >= '0' && char <= '9') || char == '-' {
			result.WriteRune(char)
		}
	}

	normalized = strings.Trim(result.String(), "-")
	if normalized == "" {
		normalized = "profile"
	}
	return normalized
}
