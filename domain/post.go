package domain

// Post is a status as returned by the Mastodon-compatible client API
type Post struct {
	ID                 string       `json:"id"`
	URI                string       `json:"uri"`
	URL                string       `json:"url,omitempty"`
	Account            *Account     `json:"account"`
	Content            string       `json:"content"`
	CreatedAt          string       `json:"created_at"`
	InReplyToID        *string      `json:"in_reply_to_id"`
	InReplyToAccountID *string      `json:"in_reply_to_account_id"`
	Reblog             *Post        `json:"reblog"`
	RepliesCount       int          `json:"replies_count"`
	ReblogsCount       int          `json:"reblogs_count"`
	FavouritesCount    int          `json:"favourites_count"`
	Visibility         string       `json:"visibility,omitempty"`
	Application        *Application `json:"application,omitempty"`
}

type Application struct {
	Name string `json:"name"`
}

type Account struct {
	ID       string `json:"id"`
	URI      string `json:"uri,omitempty"`
	URL      string `json:"url,omitempty"`
	Acct     string `json:"acct"`
	Username string `json:"username,omitempty"`
}

// ReplyTree is the flattened context of a post. Descendants may hold several
// independent branches, linked only through InReplyToID.
type ReplyTree struct {
	Ancestors   []Post `json:"ancestors"`
	Descendants []Post `json:"descendants"`
}

// Clone returns a deep copy so callers can rewrite ids without touching the input
func (p Post) Clone() Post {
	c := p
	if p.Account != nil {
		acc := *p.Account
		c.Account = &acc
	}
	if p.InReplyToID != nil {
		v := *p.InReplyToID
		c.InReplyToID = &v
	}
	if p.InReplyToAccountID != nil {
		v := *p.InReplyToAccountID
		c.InReplyToAccountID = &v
	}
	if p.Reblog != nil {
		r := p.Reblog.Clone()
		c.Reblog = &r
	}
	if p.Application != nil {
		app := *p.Application
		c.Application = &app
	}
	return c
}

func ClonePosts(posts []Post) []Post {
	out := make([]Post, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Clone())
	}
	return out
}

func (t *ReplyTree) Clone() *ReplyTree {
	if t == nil {
		return &ReplyTree{Ancestors: []Post{}, Descendants: []Post{}}
	}
	return &ReplyTree{
		Ancestors:   ClonePosts(t.Ancestors),
		Descendants: ClonePosts(t.Descendants),
	}
}

// StringPtr is a helper for the optional reply fields
func StringPtr(s string) *string {
	return &s
}
