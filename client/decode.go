package client

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/fedmerge/domain"
)

// DecodePost validates a raw status. Statuses without id, uri or author are
// rejected, so the rest of the code can rely on them being set.
func DecodePost(raw []byte) (*domain.Post, error) {
	var post domain.Post
	if err := json.Unmarshal(raw, &post); err != nil {
		return nil, fmt.Errorf("%w: status: %v", ErrMalformed, err)
	}
	if err := validatePost(&post); err != nil {
		return nil, err
	}
	return &post, nil
}

func DecodePosts(raw []byte) ([]domain.Post, error) {
	var posts []domain.Post
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, fmt.Errorf("%w: status list: %v", ErrMalformed, err)
	}
	for i := range posts {
		if err := validatePost(&posts[i]); err != nil {
			return nil, err
		}
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	return posts, nil
}

// DecodeReplyTree validates a context response. Missing lists become empty.
func DecodeReplyTree(raw []byte) (*domain.ReplyTree, error) {
	var tree domain.ReplyTree
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("%w: context: %v", ErrMalformed, err)
	}
	if err := ValidateReplyTree(&tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// ValidateReplyTree applies the status checks of DecodePost to every post of
// tree and turns missing lists into empty ones
func ValidateReplyTree(tree *domain.ReplyTree) error {
	for _, list := range [][]domain.Post{tree.Ancestors, tree.Descendants} {
		for i := range list {
			if err := validatePost(&list[i]); err != nil {
				return err
			}
		}
	}
	if tree.Ancestors == nil {
		tree.Ancestors = []domain.Post{}
	}
	if tree.Descendants == nil {
		tree.Descendants = []domain.Post{}
	}
	return nil
}

func DecodeAccount(raw []byte) (*domain.Account, error) {
	var acc domain.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("%w: account: %v", ErrMalformed, err)
	}
	if err := validateAccount(&acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func validatePost(post *domain.Post) error {
	if post.ID == "" || post.URI == "" {
		return fmt.Errorf("%w: status missing id or uri", ErrMalformed)
	}
	if post.Account == nil {
		return fmt.Errorf("%w: status %s has no account", ErrMalformed, post.ID)
	}
	if err := validateAccount(post.Account); err != nil {
		return err
	}
	if post.Reblog != nil {
		return validatePost(post.Reblog)
	}
	return nil
}

func validateAccount(acc *domain.Account) error {
	if acc.ID == "" || acc.Acct == "" {
		return fmt.Errorf("%w: account missing id or acct", ErrMalformed)
	}
	return nil
}
