package api

import (
	"log"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/slicol/meshwork/pkg/protocol"
	"github.com/slicol/meshwork/pkg/search"
)

// StartSearchRequest starts a new file search
type StartSearchRequest struct {
	Name           string          `json:"name"`
	Query          string          `json:"query" binding:"required"`
	Filters        []search.Filter `json:"filters"`
	FiltersEnabled bool            `json:"filtersEnabled"`
	NetworkIDs     []string        `json:"networkIds"`
}

// SearchResponse summarizes a search
type SearchResponse struct {
	ID             int32           `json:"id"`
	Name           string          `json:"name"`
	Query          string          `json:"query"`
	FiltersEnabled bool            `json:"filtersEnabled"`
	Filters        []search.Filter `json:"filters"`
	NetworkIDs     []string        `json:"networkIds,omitempty"`
	ResultCount    int             `json:"resultCount"`
}

// ResultResponse is one visible search result
type ResultResponse struct {
	Key       string                        `json:"key"`
	Kind      string                        `json:"kind"`
	Node      string                        `json:"nodeId,omitempty"`
	InfoHash  string                        `json:"infoHash,omitempty"`
	File      *protocol.SharedFileListing   `json:"file,omitempty"`
	Directory *protocol.SharedDirectoryInfo `json:"directory,omitempty"`
	Sources   []string                      `json:"sources,omitempty"`
}

// ResultsResponse lists the visible results of a search
type ResultsResponse struct {
	Success bool             `json:"success"`
	ID      int32            `json:"id"`
	Count   int              `json:"count"`
	Results []ResultResponse `json:"results"`
}

func searchResponse(s *search.FileSearch) SearchResponse {
	return SearchResponse{
		ID:             s.ID(),
		Name:           s.Name(),
		Query:          s.Query(),
		FiltersEnabled: s.FiltersEnabled(),
		Filters:        s.Filters(),
		NetworkIDs:     s.NetworkIDs(),
		ResultCount:    len(s.Results()),
	}
}

func resultResponse(key string, r *search.Result) ResultResponse {
	resp := ResultResponse{
		Key:       key,
		Kind:      r.Kind.String(),
		InfoHash:  r.InfoHash,
		File:      r.File,
		Directory: r.Directory,
	}

	if r.Kind == search.FileResult && len(r.Children) > 0 {
		// File groups list every node offering the file
		for _, child := range r.Children {
			resp.Sources = append(resp.Sources, child.Node.String())
		}
		if resp.File == nil {
			resp.File = r.Children[0].File
		}
	} else {
		resp.Node = r.Node.String()
	}

	return resp
}

// searchParam parses the :id path parameter
func searchParam(c *gin.Context) (int32, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid search id", Message: err.Error()})
		return 0, false
	}
	return int32(id), true
}

// handleStartSearch handles POST /api/v1/searches
func (s *Server) handleStartSearch(c *gin.Context) {
	var req StartSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	name := req.Name
	if name == "" {
		name = req.Query
	}

	fs, err := search.NewFileSearch(name, req.Query)
	if err != nil {
		respondError(c, "Invalid search", err)
		return
	}
	for _, f := range req.Filters {
		if err := fs.AddFilter(f); err != nil {
			respondError(c, "Invalid filter", err)
			return
		}
	}
	fs.SetFiltersEnabled(req.FiltersEnabled)
	fs.SetNetworkIDs(req.NetworkIDs)

	// The search stays registered even if some nodes could not be reached
	if err := s.searches.Start(c.Request.Context(), fs); err != nil {
		log.Printf("⚠️  Search %d: %v", fs.ID(), err)
	}

	c.JSON(http.StatusCreated, searchResponse(fs))
}

// handleListSearches handles GET /api/v1/searches
func (s *Server) handleListSearches(c *gin.Context) {
	searches := s.searches.List()
	resp := make([]SearchResponse, 0, len(searches))
	for _, fs := range searches {
		resp = append(resp, searchResponse(fs))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(resp), "searches": resp})
}

// handleSearchResults handles GET /api/v1/searches/:id/results
func (s *Server) handleSearchResults(c *gin.Context) {
	id, ok := searchParam(c)
	if !ok {
		return
	}

	fs, found := s.searches.Get(id)
	if !found {
		respondError(c, "Search not found", search.ErrUnknownSearch)
		return
	}

	visible := fs.VisibleResults()
	keys := make([]string, 0, len(visible))
	for key := range visible {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	resp := ResultsResponse{Success: true, ID: fs.ID(), Count: len(keys), Results: make([]ResultResponse, 0, len(keys))}
	for _, key := range keys {
		resp.Results = append(resp.Results, resultResponse(key, visible[key]))
	}

	c.JSON(http.StatusOK, resp)
}

// handleRepeatSearch handles POST /api/v1/searches/:id/repeat
func (s *Server) handleRepeatSearch(c *gin.Context) {
	id, ok := searchParam(c)
	if !ok {
		return
	}

	fs, err := s.searches.Repeat(c.Request.Context(), id)
	if fs == nil {
		respondError(c, "Failed to repeat search", err)
		return
	}
	if err != nil {
		log.Printf("⚠️  Search %d: %v", fs.ID(), err)
	}

	c.JSON(http.StatusOK, searchResponse(fs))
}

// handleRemoveSearch handles DELETE /api/v1/searches/:id
func (s *Server) handleRemoveSearch(c *gin.Context) {
	id, ok := searchParam(c)
	if !ok {
		return
	}

	if _, found := s.searches.Get(id); !found {
		respondError(c, "Search not found", search.ErrUnknownSearch)
		return
	}
	s.searches.Remove(id)

	c.JSON(http.StatusOK, gin.H{"success": true})
}
