package manager

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"infracontrol/internal/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrExists       = errors.New("already exists")
	ErrInvalid      = errors.New("invalid request")
	ErrUnauthorized = errors.New("invalid credentials")
)

// Document is the on-disk layout of the registry file.
type Document struct {
	Settings     Settings            `json:"settings" yaml:"settings"`
	Nodes        []models.Target     `json:"nodes" yaml:"nodes"`
	ClusterNodes []string            `json:"cluster_nodes" yaml:"cluster_nodes"`
	Cluster      *models.ClusterInfo `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	Domains      []string            `json:"domains" yaml:"domains"`
	Users        []models.User       `json:"users" yaml:"users"`
}

func defaultDocument() Document {
	info := models.DefaultClusterInfo()
	return Document{
		Settings:     DefaultSettings(),
		Nodes:        []models.Target{},
		ClusterNodes: []string{},
		Cluster:      &info,
		Domains:      []string{},
		Users:        []models.User{},
	}
}

func (d Document) clone() Document {
	dup := Document{
		Settings:     d.Settings,
		Nodes:        append([]models.Target{}, d.Nodes...),
		ClusterNodes: append([]string{}, d.ClusterNodes...),
		Domains:      append([]string{}, d.Domains...),
		Users:        append([]models.User{}, d.Users...),
	}
	if d.Cluster != nil {
		info := d.Cluster.Copy()
		dup.Cluster = &info
	}
	return dup
}

func (d Document) targetIndex(id string) int {
	for i, t := range d.Nodes {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (d Document) userIndex(username string) int {
	for i, u := range d.Users {
		if strings.EqualFold(u.Username, username) {
			return i
		}
	}
	return -1
}

func (d Document) domainIndex(domain string) int {
	for i, existing := range d.Domains {
		if strings.EqualFold(existing, domain) {
			return i
		}
	}
	return -1
}

// View is a point-in-time deep copy of the registry handed to a poll cycle.
type View struct {
	Targets        []models.Target
	ClusterMembers []string
	ClusterInfo    models.ClusterInfo
	Domains        []string
	Users          []models.UserSummary
}

// Registry owns the declarative configuration: targets, cluster membership,
// domains, users and settings. Every mutation rewrites the whole file.
type Registry struct {
	path string

	mu  sync.RWMutex
	doc Document

	// writeFile is swapped in tests to simulate persistence failures.
	writeFile func(path string, data []byte) error
}

// NewRegistry returns a registry backed by path holding default content.
// Call Load to read the file.
func NewRegistry(path string) *Registry {
	return &Registry{
		path:      path,
		doc:       defaultDocument(),
		writeFile: writeFileAtomic,
	}
}

// Path returns the backing file.
func (r *Registry) Path() string { return r.path }

func (r *Registry) isYAML() bool {
	switch strings.ToLower(filepath.Ext(r.path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads the backing file. A missing file leaves the defaults in place
// and returns an error wrapping os.ErrNotExist.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}

	doc := defaultDocument()
	doc.Cluster = nil
	if len(bytes.TrimSpace(data)) > 0 {
		if r.isYAML() {
			err = yaml.Unmarshal(data, &doc)
		} else {
			err = json.Unmarshal(data, &doc)
		}
		if err != nil {
			return fmt.Errorf("error parsing registry %s: %w", r.path, err)
		}
	}
	doc = sanitizeDocument(doc)

	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	return nil
}

func sanitizeDocument(doc Document) Document {
	doc.Settings = doc.Settings.normalize()
	if doc.Cluster == nil {
		info := models.DefaultClusterInfo()
		doc.Cluster = &info
	}

	nodes := make([]models.Target, 0, len(doc.Nodes))
	for _, t := range doc.Nodes {
		t = t.Normalize()
		if t.ID == "" {
			continue
		}
		nodes = append(nodes, t)
	}
	doc.Nodes = nodes

	members := make([]string, 0, len(doc.ClusterNodes))
	seen := make(map[string]struct{}, len(doc.ClusterNodes))
	for _, id := range doc.ClusterNodes {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	doc.ClusterNodes = members

	domains := make([]string, 0, len(doc.Domains))
	for _, d := range doc.Domains {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	doc.Domains = domains

	users := make([]models.User, 0, len(doc.Users))
	for _, u := range doc.Users {
		u.Username = strings.TrimSpace(u.Username)
		if u.Username == "" {
			continue
		}
		if !u.Role.Valid() {
			u.Role = models.RoleViewer
		}
		users = append(users, u)
	}
	doc.Users = users
	return doc
}

// Save writes the current content to disk.
func (r *Registry) Save() error {
	r.mu.RLock()
	doc := r.doc.clone()
	r.mu.RUnlock()
	if err := r.persist(doc); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

func (r *Registry) persist(doc Document) error {
	var (
		data []byte
		err  error
	)
	if r.isYAML() {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	return r.writeFile(r.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to ensure registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// update applies fn to a copy, persists it and only then makes it current.
func (r *Registry) update(fn func(doc *Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.doc.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := r.persist(next); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	r.doc = next
	return nil
}

// View returns a deep copy for one poll cycle.
func (r *Registry) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v := View{
		Targets:        append([]models.Target{}, r.doc.Nodes...),
		ClusterMembers: append([]string{}, r.doc.ClusterNodes...),
		Domains:        append([]string{}, r.doc.Domains...),
		Users:          make([]models.UserSummary, 0, len(r.doc.Users)),
	}
	if r.doc.Cluster != nil {
		v.ClusterInfo = r.doc.Cluster.Copy()
	}
	for _, u := range r.doc.Users {
		v.Users = append(v.Users, u.Summary())
	}
	return v
}

func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Settings
}

// UpdateSettings replaces the settings block and persists it.
func (r *Registry) UpdateSettings(fn func(s *Settings)) error {
	return r.update(func(doc *Document) error {
		fn(&doc.Settings)
		doc.Settings = doc.Settings.normalize()
		return nil
	})
}

func (r *Registry) Targets() []models.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Target{}, r.doc.Nodes...)
}

func (r *Registry) ClusterMembers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.doc.ClusterNodes...)
}

func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.doc.Domains...)
}

// Users returns redacted user entries.
func (r *Registry) Users() []models.UserSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.UserSummary, 0, len(r.doc.Users))
	for _, u := range r.doc.Users {
		out = append(out, u.Summary())
	}
	return out
}

func (r *Registry) AdminCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, u := range r.doc.Users {
		if u.Role == models.RoleAdmin {
			n++
		}
	}
	return n
}

// AddDomain appends a domain to the monitored list.
func (r *Registry) AddDomain(domain string) error {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalid)
	}
	return r.update(func(doc *Document) error {
		if doc.domainIndex(domain) >= 0 {
			return fmt.Errorf("domain %q %w", domain, ErrExists)
		}
		doc.Domains = append(doc.Domains, domain)
		return nil
	})
}

// RenameDomain replaces oldName in place, keeping its position.
func (r *Registry) RenameDomain(oldName, newName string) error {
	oldName = strings.TrimSpace(oldName)
	newName = strings.TrimSpace(newName)
	if oldName == "" || newName == "" {
		return fmt.Errorf("%w: old_name and new_name are required", ErrInvalid)
	}
	return r.update(func(doc *Document) error {
		idx := doc.domainIndex(oldName)
		if idx < 0 {
			return fmt.Errorf("domain %q %w", oldName, ErrNotFound)
		}
		if other := doc.domainIndex(newName); other >= 0 && other != idx {
			return fmt.Errorf("domain %q %w", newName, ErrExists)
		}
		doc.Domains[idx] = newName
		return nil
	})
}

func (r *Registry) RemoveDomain(domain string) error {
	domain = strings.TrimSpace(domain)
	return r.update(func(doc *Document) error {
		idx := doc.domainIndex(domain)
		if idx < 0 {
			return fmt.Errorf("domain %q %w", domain, ErrNotFound)
		}
		doc.Domains = append(doc.Domains[:idx], doc.Domains[idx+1:]...)
		return nil
	})
}

// AddUser stores a new account with an already-hashed password.
func (r *Registry) AddUser(username, passwordHash string, role models.Role) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}
	if passwordHash == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalid)
	}
	return r.update(func(doc *Document) error {
		if doc.userIndex(username) >= 0 {
			return fmt.Errorf("user %q %w", username, ErrExists)
		}
		doc.Users = append(doc.Users, models.User{
			Username:     username,
			PasswordHash: passwordHash,
			Role:         role,
			CreatedAt:    time.Now().UTC(),
		})
		return nil
	})
}

// SetPasswordHash replaces a user's credentials and drops any legacy plaintext.
func (r *Registry) SetPasswordHash(username, passwordHash string) error {
	if passwordHash == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalid)
	}
	return r.update(func(doc *Document) error {
		idx := doc.userIndex(username)
		if idx < 0 {
			return fmt.Errorf("user %q %w", username, ErrNotFound)
		}
		doc.Users[idx].PasswordHash = passwordHash
		doc.Users[idx].Password = ""
		return nil
	})
}

// RemoveUser deletes an account. The last admin cannot be removed.
func (r *Registry) RemoveUser(username string) error {
	username = strings.TrimSpace(username)
	return r.update(func(doc *Document) error {
		idx := doc.userIndex(username)
		if idx < 0 {
			return fmt.Errorf("user %q %w", username, ErrNotFound)
		}
		if doc.Users[idx].Role == models.RoleAdmin {
			admins := 0
			for _, u := range doc.Users {
				if u.Role == models.RoleAdmin {
					admins++
				}
			}
			if admins <= 1 {
				return fmt.Errorf("%w: cannot remove the last admin", ErrInvalid)
			}
		}
		doc.Users = append(doc.Users[:idx], doc.Users[idx+1:]...)
		return nil
	})
}

// Authenticate returns the user's role when the username matches exactly and
// the password matches either the bcrypt hash or, for legacy entries, the
// stored plaintext.
func (r *Registry) Authenticate(username, password string) (models.Role, error) {
	r.mu.RLock()
	idx := -1
	var u models.User
	for i, candidate := range r.doc.Users {
		if candidate.Username == username {
			idx, u = i, candidate
			break
		}
	}
	r.mu.RUnlock()

	if idx < 0 || password == "" {
		return "", ErrUnauthorized
	}
	switch {
	case u.PasswordHash != "":
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return "", ErrUnauthorized
		}
	case u.Password != "":
		if subtle.ConstantTimeCompare([]byte(u.Password), []byte(password)) != 1 {
			return "", ErrUnauthorized
		}
	default:
		return "", ErrUnauthorized
	}
	return u.Role, nil
}

// AddTarget registers a new server.
func (r *Registry) AddTarget(t models.Target) error {
	t = t.Normalize()
	if t.ID == "" || t.IP == "" {
		return fmt.Errorf("%w: id and ip are required", ErrInvalid)
	}
	return r.update(func(doc *Document) error {
		if doc.targetIndex(t.ID) >= 0 {
			return fmt.Errorf("target %q %w", t.ID, ErrExists)
		}
		doc.Nodes = append(doc.Nodes, t)
		return nil
	})
}

// UpdateTarget replaces the target with the given id. A changed id is
// carried into the cluster membership list.
func (r *Registry) UpdateTarget(id string, t models.Target) error {
	id = strings.TrimSpace(id)
	t = t.Normalize()
	if t.ID == "" {
		t.ID = id
	}
	if t.IP == "" {
		return fmt.Errorf("%w: ip is required", ErrInvalid)
	}
	return r.update(func(doc *Document) error {
		idx := doc.targetIndex(id)
		if idx < 0 {
			return fmt.Errorf("target %q %w", id, ErrNotFound)
		}
		if t.ID != id {
			if doc.targetIndex(t.ID) >= 0 {
				return fmt.Errorf("target %q %w", t.ID, ErrExists)
			}
			for i, member := range doc.ClusterNodes {
				if member == id {
					doc.ClusterNodes[i] = t.ID
				}
			}
		}
		doc.Nodes[idx] = t
		return nil
	})
}

// RemoveTarget deletes a server and its cluster membership.
func (r *Registry) RemoveTarget(id string) error {
	id = strings.TrimSpace(id)
	return r.update(func(doc *Document) error {
		idx := doc.targetIndex(id)
		if idx < 0 {
			return fmt.Errorf("target %q %w", id, ErrNotFound)
		}
		doc.Nodes = append(doc.Nodes[:idx], doc.Nodes[idx+1:]...)
		members := doc.ClusterNodes[:0]
		for _, member := range doc.ClusterNodes {
			if member != id {
				members = append(members, member)
			}
		}
		doc.ClusterNodes = members
		return nil
	})
}

// SetClusterMembers replaces the membership list. Every id must name a
// registered target and appear once.
func (r *Registry) SetClusterMembers(ids []string) error {
	return r.update(func(doc *Document) error {
		seen := make(map[string]struct{}, len(ids))
		members := make([]string, 0, len(ids))
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: duplicate cluster member %q", ErrInvalid, id)
			}
			if doc.targetIndex(id) < 0 {
				return fmt.Errorf("%w: unknown target %q", ErrInvalid, id)
			}
			seen[id] = struct{}{}
			members = append(members, id)
		}
		doc.ClusterNodes = members
		return nil
	})
}
