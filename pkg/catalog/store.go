package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/permafrost-sh/permafrost/pkg/gateway/cluster"
)

// DefaultIndex is the default name of the status catalog index.
const DefaultIndex = "permafrost-status"

// settingsDocID is the fixed id of the settings singleton.
const settingsDocID = "settings"

// Store persists catalog records as documents in a dedicated cluster index.
// Every write is conditional on the record's sequence number; a lost race
// surfaces as a Conflict error. Reads and writes exchange value snapshots.
type Store struct {
	gw    cluster.Gateway
	index string
}

// NewStore creates a store over the given gateway and catalog index.
func NewStore(gw cluster.Gateway, index string) *Store {
	if index == "" {
		index = DefaultIndex
	}
	return &Store{gw: gw, index: index}
}

// Index returns the catalog index name.
func (s *Store) Index() string {
	return s.index
}

// Exists reports whether the catalog index exists.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	ok, err := s.gw.IndexExists(ctx, s.index)
	if err != nil {
		return false, WrapError(ErrActionFailed, "check catalog", err)
	}
	return ok, nil
}

// Create creates the catalog index. Fails with PreconditionFailed when it
// already exists.
func (s *Store) Create(ctx context.Context) error {
	ok, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		return NewError(ErrPreconditionFailed, "create catalog", "index "+s.index+" already exists")
	}
	if err := s.gw.CreateIndex(ctx, s.index); err != nil {
		return WrapError(ErrActionFailed, "create catalog", err)
	}
	return nil
}

// mapReadErr translates gateway read errors into the catalog taxonomy.
func mapReadErr(op string, err error) error {
	switch {
	case errors.Is(err, cluster.ErrIndexNotFound):
		return WrapError(ErrMissingCatalog, op, err)
	case errors.Is(err, cluster.ErrDocumentNotFound):
		return WrapError(ErrNotFound, op, err)
	default:
		return WrapError(ErrActionFailed, op, err)
	}
}

// mapWriteErr translates gateway write errors into the catalog taxonomy.
func mapWriteErr(op string, err error) error {
	switch {
	case errors.Is(err, cluster.ErrIndexNotFound):
		return WrapError(ErrMissingCatalog, op, err)
	case errors.Is(err, cluster.ErrSeqConflict), errors.Is(err, cluster.ErrDocumentExists):
		return WrapError(ErrConflict, op, err)
	case errors.Is(err, cluster.ErrDocumentNotFound):
		return WrapError(ErrNotFound, op, err)
	default:
		return WrapError(ErrActionFailed, op, err)
	}
}

// GetSettings fetches the settings singleton. An absent or corrupt
// singleton is MissingSettings; an absent catalog is MissingCatalog.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	doc, err := s.gw.GetDocument(ctx, s.index, settingsDocID)
	if err != nil {
		if errors.Is(err, cluster.ErrDocumentNotFound) {
			return Settings{}, WrapError(ErrMissingSettings, "get settings", err)
		}
		return Settings{}, mapReadErr("get settings", err)
	}

	var settings Settings
	if err := json.Unmarshal(doc.Source, &settings); err != nil || settings.Doctype != DocTypeSettings {
		return Settings{}, NewError(ErrMissingSettings, "get settings", "settings document is corrupt")
	}
	settings.Seq = doc.Seq
	return settings, nil
}

// CreateSettings stores the settings singleton for the first time. A
// collision means the cluster is already initialized.
func (s *Store) CreateSettings(ctx context.Context, settings Settings) (Settings, error) {
	settings.Doctype = DocTypeSettings
	source, err := json.Marshal(settings)
	if err != nil {
		return Settings{}, WrapError(ErrActionFailed, "create settings", err)
	}
	seq, err := s.gw.CreateDocument(ctx, s.index, settingsDocID, source)
	if err != nil {
		if errors.Is(err, cluster.ErrDocumentExists) {
			return Settings{}, WrapError(ErrPreconditionFailed, "create settings", err)
		}
		return Settings{}, mapWriteErr("create settings", err)
	}
	settings.Seq = seq
	return settings, nil
}

// SaveSettings conditionally replaces the settings singleton and returns
// the stored snapshot.
func (s *Store) SaveSettings(ctx context.Context, settings Settings) (Settings, error) {
	settings.Doctype = DocTypeSettings
	source, err := json.Marshal(settings)
	if err != nil {
		return Settings{}, WrapError(ErrActionFailed, "save settings", err)
	}
	seq, err := s.gw.UpdateDocument(ctx, s.index, settingsDocID, source, settings.Seq)
	if err != nil {
		return Settings{}, mapWriteErr("save settings", err)
	}
	settings.Seq = seq
	return settings, nil
}

// repoDocID derives the document id for a repository ledger entry.
func repoDocID(name string) string {
	return "repository-" + name
}

// CreateRepository stores a new repository ledger entry.
func (s *Store) CreateRepository(ctx context.Context, repo Repository) (Repository, error) {
	repo.Doctype = DocTypeRepository
	source, err := json.Marshal(repo)
	if err != nil {
		return Repository{}, WrapError(ErrActionFailed, "create repository "+repo.Name, err)
	}
	seq, err := s.gw.CreateDocument(ctx, s.index, repoDocID(repo.Name), source)
	if err != nil {
		return Repository{}, mapWriteErr("create repository "+repo.Name, err)
	}
	repo.Seq = seq
	return repo, nil
}

// SaveRepository conditionally replaces a repository ledger entry and
// returns the stored snapshot.
func (s *Store) SaveRepository(ctx context.Context, repo Repository) (Repository, error) {
	repo.Doctype = DocTypeRepository
	source, err := json.Marshal(repo)
	if err != nil {
		return Repository{}, WrapError(ErrActionFailed, "save repository "+repo.Name, err)
	}
	seq, err := s.gw.UpdateDocument(ctx, s.index, repoDocID(repo.Name), source, repo.Seq)
	if err != nil {
		return Repository{}, mapWriteErr("save repository "+repo.Name, err)
	}
	repo.Seq = seq
	return repo, nil
}

// GetRepository fetches one repository ledger entry by name.
func (s *Store) GetRepository(ctx context.Context, name string) (Repository, error) {
	doc, err := s.gw.GetDocument(ctx, s.index, repoDocID(name))
	if err != nil {
		return Repository{}, mapReadErr("get repository "+name, err)
	}
	var repo Repository
	if err := json.Unmarshal(doc.Source, &repo); err != nil {
		return Repository{}, WrapError(ErrActionFailed, "get repository "+name, err)
	}
	repo.Seq = doc.Seq
	return repo, nil
}

// ListRepositories returns every repository ledger entry, sorted by name.
func (s *Store) ListRepositories(ctx context.Context) ([]Repository, error) {
	docs, err := s.gw.SearchDocuments(ctx, s.index, map[string]string{"doctype": string(DocTypeRepository)})
	if err != nil {
		return nil, mapReadErr("list repositories", err)
	}

	repos := make([]Repository, 0, len(docs))
	for _, doc := range docs {
		var repo Repository
		if err := json.Unmarshal(doc.Source, &repo); err != nil {
			return nil, WrapError(ErrActionFailed, "list repositories", err)
		}
		repo.Seq = doc.Seq
		repos = append(repos, repo)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos, nil
}

// requestDocID derives the document id for a thaw request.
func requestDocID(id string) string {
	return "request-" + id
}

// CreateRequest stores a new thaw request.
func (s *Store) CreateRequest(ctx context.Context, req ThawRequest) (ThawRequest, error) {
	req.Doctype = DocTypeThawRequest
	source, err := json.Marshal(req)
	if err != nil {
		return ThawRequest{}, WrapError(ErrActionFailed, "create request "+req.ID, err)
	}
	seq, err := s.gw.CreateDocument(ctx, s.index, requestDocID(req.ID), source)
	if err != nil {
		return ThawRequest{}, mapWriteErr("create request "+req.ID, err)
	}
	req.Seq = seq
	return req, nil
}

// SaveRequest conditionally replaces a thaw request and returns the stored
// snapshot.
func (s *Store) SaveRequest(ctx context.Context, req ThawRequest) (ThawRequest, error) {
	req.Doctype = DocTypeThawRequest
	source, err := json.Marshal(req)
	if err != nil {
		return ThawRequest{}, WrapError(ErrActionFailed, "save request "+req.ID, err)
	}
	seq, err := s.gw.UpdateDocument(ctx, s.index, requestDocID(req.ID), source, req.Seq)
	if err != nil {
		return ThawRequest{}, mapWriteErr("save request "+req.ID, err)
	}
	req.Seq = seq
	return req, nil
}

// GetRequest fetches one thaw request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (ThawRequest, error) {
	doc, err := s.gw.GetDocument(ctx, s.index, requestDocID(id))
	if err != nil {
		return ThawRequest{}, mapReadErr("get request "+id, err)
	}
	var req ThawRequest
	if err := json.Unmarshal(doc.Source, &req); err != nil {
		return ThawRequest{}, WrapError(ErrActionFailed, "get request "+id, err)
	}
	req.Seq = doc.Seq
	return req, nil
}

// ListRequests returns thaw requests, optionally filtered by status,
// sorted by creation time then id.
func (s *Store) ListRequests(ctx context.Context, status RequestStatus) ([]ThawRequest, error) {
	terms := map[string]string{"doctype": string(DocTypeThawRequest)}
	if status != "" {
		terms["status"] = string(status)
	}
	docs, err := s.gw.SearchDocuments(ctx, s.index, terms)
	if err != nil {
		return nil, mapReadErr("list requests", err)
	}

	reqs := make([]ThawRequest, 0, len(docs))
	for _, doc := range docs {
		var req ThawRequest
		if err := json.Unmarshal(doc.Source, &req); err != nil {
			return nil, WrapError(ErrActionFailed, "list requests", err)
		}
		req.Seq = doc.Seq
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
	return reqs, nil
}

// DeleteRequest removes a thaw request. Deleting an absent request is a
// no-op success (cleanup is idempotent).
func (s *Store) DeleteRequest(ctx context.Context, id string) error {
	err := s.gw.DeleteDocument(ctx, s.index, requestDocID(id))
	if err != nil && !errors.Is(err, cluster.ErrDocumentNotFound) {
		return mapWriteErr("delete request "+id, err)
	}
	return nil
}
