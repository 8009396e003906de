// Package search aggregates file search results arriving from the mesh
package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/slicol/meshwork/pkg/protocol"
)

var (
	ErrEmptyQuery    = errors.New("query may not be empty")
	ErrWrongSearch   = errors.New("results are for a different search")
	ErrUnknownSearch = errors.New("unknown search")
	ErrInvalidFilter = errors.New("invalid filter")
)

// ResultKind tells file results from directory results
type ResultKind int

const (
	FileResult ResultKind = iota
	DirectoryResult
)

func (k ResultKind) String() string {
	if k == DirectoryResult {
		return "directory"
	}
	return "file"
}

// Result is one hit, or a group of hits. A file group collects every node
// offering the same InfoHash; a directory result holds the directory's files.
type Result struct {
	Kind      ResultKind
	Node      protocol.NodeID
	InfoHash  string
	File      *protocol.SharedFileListing
	Directory *protocol.SharedDirectoryInfo
	Children  []*Result
}

// Submitter sends a search to the networks it targets
type Submitter interface {
	SubmitSearch(ctx context.Context, s *FileSearch) error
}

// FileSearch is one query and the results gathered for it
type FileSearch struct {
	mu sync.Mutex

	id             int32
	name           string
	query          string
	filtersEnabled bool
	filters        []Filter
	networkIDs     []string

	results        map[string]*Result
	allFileResults map[string][]*Result

	newResults []func(s *FileSearch, results []*Result)
	cleared    []func(s *FileSearch)
}

// NewFileSearch creates a search for query with a fresh random id
func NewFileSearch(name, query string) (*FileSearch, error) {
	s := &FileSearch{
		id:             newSearchID(),
		name:           name,
		results:        make(map[string]*Result),
		allFileResults: make(map[string][]*Result),
	}
	if err := s.SetQuery(query); err != nil {
		return nil, err
	}
	return s, nil
}

func newSearchID() int32 {
	return rand.Int31()
}

// ID correlates SearchResult messages with this search. It changes on Repeat.
func (s *FileSearch) ID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *FileSearch) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *FileSearch) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// Query returns the lower-cased query
func (s *FileSearch) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// SetQuery stores q lower-cased. Blank queries are rejected.
func (s *FileSearch) SetQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return ErrEmptyQuery
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = strings.ToLower(q)
	return nil
}

func (s *FileSearch) FiltersEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filtersEnabled
}

func (s *FileSearch) SetFiltersEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filtersEnabled = enabled
}

// Filters returns a copy of the filter list
func (s *FileSearch) Filters() []Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.filters)
}

// AddFilter appends a filter after validating it
func (s *FileSearch) AddFilter(f Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = append(s.filters, f)
	return nil
}

func (s *FileSearch) ClearFilters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = nil
}

// NetworkIDs lists the networks the search is sent to. Empty means all.
func (s *FileSearch) NetworkIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.networkIDs)
}

func (s *FileSearch) SetNetworkIDs(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkIDs = slices.Clone(ids)
}

// TargetsNetwork reports whether the search should be sent on networkID
func (s *FileSearch) TargetsNetwork(networkID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.networkIDs) == 0 || slices.Contains(s.networkIDs, networkID)
}

// OnNewResults registers a callback for every batch appended by AppendResults
func (s *FileSearch) OnNewResults(fn func(s *FileSearch, results []*Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newResults = append(s.newResults, fn)
}

// OnCleared registers a callback fired when Repeat drops the old results
func (s *FileSearch) OnCleared(fn func(s *FileSearch)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, fn)
}

// Request builds the content of the SearchRequest message for this search
func (s *FileSearch) Request() protocol.SearchRequestInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return protocol.SearchRequestInfo{SearchID: s.id, Query: s.query}
}

// Repeat gives the search a new id, drops the old results and sends it
// again through submitter
func (s *FileSearch) Repeat(ctx context.Context, submitter Submitter) error {
	s.reset()
	return submitter.SubmitSearch(ctx, s)
}

func (s *FileSearch) reset() {
	s.mu.Lock()
	s.id = newSearchID()
	clear(s.results)
	clear(s.allFileResults)
	callbacks := slices.Clone(s.cleared)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(s)
	}
}

// Results returns a snapshot of the top-level results. File results are
// keyed by InfoHash; directories get a random key. Later results do not
// change a returned snapshot.
func (s *FileSearch) Results() map[string]*Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Result, len(s.results))
	for k, v := range s.results {
		out[k] = v.clone()
	}
	return out
}

// clone copies r and its children slice; children are never modified
// after they are appended
func (r *Result) clone() *Result {
	c := *r
	c.Children = slices.Clone(r.Children)
	return &c
}

// AllFileResults returns a snapshot of every individual file hit by InfoHash,
// including files inside directory results
func (s *FileSearch) AllFileResults() map[string][]*Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]*Result, len(s.allFileResults))
	for k, v := range s.allFileResults {
		out[k] = slices.Clone(v)
	}
	return out
}

// AppendResults merges a SearchResult payload from node. Payloads carrying
// another search id are rejected with ErrWrongSearch.
func (s *FileSearch) AppendResults(node protocol.NodeID, info protocol.SearchResultInfo) error {
	s.mu.Lock()

	if info.SearchID != s.id {
		id := s.id
		s.mu.Unlock()
		return fmt.Errorf("%w: got %d, want %d", ErrWrongSearch, info.SearchID, id)
	}

	var added []*Result

	for i := range info.Directories {
		dir := info.Directories[i]
		dirResult := &Result{Kind: DirectoryResult, Node: node, Directory: &dir}

		// Directories are never looked up by key
		s.results[uuid.NewString()] = dirResult

		for j := range dir.Files {
			file := dir.Files[j]
			fileResult := &Result{Kind: FileResult, Node: node, InfoHash: file.InfoHash, File: &file}
			dirResult.Children = append(dirResult.Children, fileResult)
			s.allFileResults[file.InfoHash] = append(s.allFileResults[file.InfoHash], fileResult)
		}

		added = append(added, dirResult)
	}

	for i := range info.Files {
		file := info.Files[i]
		result := &Result{Kind: FileResult, Node: node, InfoHash: file.InfoHash, File: &file}

		if group, ok := s.results[file.InfoHash]; ok {
			group.Children = append(group.Children, result)
		} else {
			group = &Result{Kind: FileResult, Node: node, InfoHash: file.InfoHash, Children: []*Result{result}}
			s.results[file.InfoHash] = group
			added = append(added, group)
		}

		s.allFileResults[file.InfoHash] = append(s.allFileResults[file.InfoHash], result)
	}

	callbacks := slices.Clone(s.newResults)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(s, added)
	}
	return nil
}

// CheckAllFilters reports whether listing passes every filter
func (s *FileSearch) CheckAllFilters(listing protocol.SharedFileListing) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkAllFilters(listing)
}

func (s *FileSearch) checkAllFilters(listing protocol.SharedFileListing) bool {
	for _, f := range s.filters {
		if !f.Check(listing) {
			return false
		}
	}
	return true
}

// CheckAllFiltersMatchesOne reports whether at least one file under result
// passes every filter
func (s *FileSearch) CheckAllFiltersMatchesOne(result *Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, child := range result.Children {
		if child.File != nil && s.checkAllFilters(*child.File) {
			return true
		}
	}
	return false
}

// VisibleResults is Results with the filters applied when they are enabled
func (s *FileSearch) VisibleResults() map[string]*Result {
	results := s.Results()
	if !s.FiltersEnabled() {
		return results
	}
	for k, r := range results {
		if !s.CheckAllFiltersMatchesOne(r) {
			delete(results, k)
		}
	}
	return results
}
