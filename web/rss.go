package web

import (
	"fmt"
	"time"

	"github.com/deemkeen/fedmerge/domain"
	"github.com/deemkeen/fedmerge/util"
	"github.com/gorilla/feeds"
)

// GetAccountRSS renders a merged profile post list of account id on host
func GetAccountRSS(conf *util.AppConfig, host, id string, posts []domain.Post) (string, error) {
	link := fmt.Sprintf("http://%s:%d/feed/%s/%s", conf.Conf.Host, conf.Conf.HttpPort, host, id)

	author := id
	for _, p := range posts {
		if p.Reblog == nil && p.Account != nil {
			author = p.Account.Acct
			break
		}
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", util.Name, author),
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("posts of %s as seen from %s", author, host),
		Author:      &feeds.Author{Name: author},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, p := range posts {
		item := p
		title := "post"
		if p.Reblog != nil {
			item = *p.Reblog
			title = "boost"
		}
		created, err := time.Parse(time.RFC3339, item.CreatedAt)
		if err == nil {
			title = fmt.Sprintf("%s %s", title, created.Format(util.DateTimeFormat()))
		}
		href := item.URL
		if href == "" {
			href = item.URI
		}
		entry := &feeds.Item{
			Id:          item.URI,
			Title:       title,
			Link:        &feeds.Link{Href: href},
			Description: item.Content,
			Created:     created,
		}
		if item.Account != nil {
			entry.Author = &feeds.Author{Name: item.Account.Acct}
		}
		feedItems = append(feedItems, entry)
	}

	feed.Items = feedItems
	return feed.ToRss()
}
