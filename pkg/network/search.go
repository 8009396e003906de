package network

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/slicol/meshwork/pkg/protocol"
	"github.com/slicol/meshwork/pkg/search"
)

// SearchSubmitter sends a search to every node sharing a session with the
// local node
type SearchSubmitter struct {
	net    *Network
	sender Sender
}

func NewSearchSubmitter(net *Network, sender Sender) *SearchSubmitter {
	return &SearchSubmitter{net: net, sender: sender}
}

// SubmitSearch seals one SearchRequest per node. Searches that do not target
// this network are ignored.
func (s *SearchSubmitter) SubmitSearch(ctx context.Context, fs *search.FileSearch) error {
	if !fs.TargetsNetwork(s.net.ID()) {
		return nil
	}

	request := fs.Request()

	var errs []error
	var sent int
	for _, node := range s.net.Nodes() {
		if !node.HasSession() {
			continue
		}

		draft := protocol.NewDraft(s.net, protocol.MsgTypeSearchRequest)
		if err := draft.SetTo(node.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := draft.SetContent(request); err != nil {
			return err
		}

		sealed, err := draft.Seal()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", node.ID.Short(), err))
			continue
		}

		if err := s.sender.Send(ctx, sealed); err != nil && !errors.Is(err, ErrQueued) {
			errs = append(errs, fmt.Errorf("%s: %w", node.ID.Short(), err))
			continue
		}
		sent++
	}

	log.Printf("🔍 Search %d sent to %d nodes", request.SearchID, sent)
	return errors.Join(errs...)
}

var _ search.Submitter = (*SearchSubmitter)(nil)
