package storage

import (
	"context"
	"sort"
	"time"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"mangadexbot/pkg/logx"
)

// mongoDoc is the persisted layout, one document per manga keyed by id.
type mongoDoc struct {
	ID             string   `bson:"_id"`
	Title          string   `bson:"title"`
	LatestUpdateID string   `bson:"latestUpdateId,omitempty"`
	Baselined      bool     `bson:"baselined,omitempty"`
	Subscribers    []string `bson:"subscribers"`
}

func (d mongoDoc) manga() Manga {
	return Manga{ID: d.ID, Title: d.Title, LatestChapterID: d.LatestUpdateID, Baselined: d.Baselined, Subscribers: d.Subscribers}
}

type mongoStore struct {
	session    *mgo.Session
	database   string
	collection string
	log        logx.Logger
}

func openMongo(cfg Config, log logx.Logger) (Store, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	session, err := mgo.DialWithTimeout(cfg.URL, timeout)
	if err != nil {
		return nil, err
	}
	session.SetMode(mgo.Monotonic, true)
	session.SetSafe(&mgo.Safe{})

	coll := cfg.Collection
	if coll == "" {
		coll = "manga"
	}
	return &mongoStore{session: session, database: cfg.Database, collection: coll, log: log}, nil
}

// with runs fn against a copied session so concurrent callers get their own socket.
func (s *mongoStore) with(ctx context.Context, fn func(c *mgo.Collection) error) error {
	if err := ctx.Err(); err != nil {
		return unavailable("session", err)
	}
	sess := s.session.Copy()
	defer sess.Close()
	return fn(sess.DB(s.database).C(s.collection))
}

func (s *mongoStore) Create(ctx context.Context, m Manga) error {
	if m.ID == "" {
		return errEmptyID
	}
	subs := dedupe(m.Subscribers)
	if len(subs) == 0 {
		return ErrNoSubscribers
	}
	doc := mongoDoc{ID: m.ID, Title: m.Title, LatestUpdateID: m.LatestChapterID, Baselined: m.Baselined, Subscribers: subs}
	return s.with(ctx, func(c *mgo.Collection) error {
		err := c.Insert(doc)
		if mgo.IsDup(err) {
			return ErrConflict
		}
		if err != nil {
			return unavailable("create", err)
		}
		return nil
	})
}

func (s *mongoStore) Get(ctx context.Context, id string) (Manga, bool, error) {
	var (
		doc   mongoDoc
		found bool
	)
	err := s.with(ctx, func(c *mgo.Collection) error {
		err := c.FindId(id).One(&doc)
		if err == mgo.ErrNotFound {
			return nil
		}
		if err != nil {
			return unavailable("get", err)
		}
		found = true
		return nil
	})
	if err != nil || !found {
		return Manga{}, false, err
	}
	return doc.manga(), true, nil
}

func (s *mongoStore) List(ctx context.Context) ([]Manga, error) {
	var out []Manga
	err := s.with(ctx, func(c *mgo.Collection) error {
		iter := c.Find(nil).Iter()
		var doc mongoDoc
		for iter.Next(&doc) {
			out = append(out, doc.manga())
			doc = mongoDoc{}
		}
		if err := iter.Close(); err != nil {
			return unavailable("list", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mongoStore) AddSubscriber(ctx context.Context, id, sub string) error {
	return s.with(ctx, func(c *mgo.Collection) error {
		err := c.UpdateId(id, bson.M{"$addToSet": bson.M{"subscribers": sub}})
		if err == mgo.ErrNotFound {
			return ErrNotFound
		}
		if err != nil {
			return unavailable("add subscriber", err)
		}
		return nil
	})
}

func (s *mongoStore) SetLatestChapter(ctx context.Context, id, chapterID string) error {
	update := bson.M{"$set": bson.M{"latestUpdateId": chapterID, "baselined": true}}
	if chapterID == "" {
		update = bson.M{"$set": bson.M{"baselined": true}, "$unset": bson.M{"latestUpdateId": ""}}
	}
	return s.with(ctx, func(c *mgo.Collection) error {
		err := c.UpdateId(id, update)
		if err == mgo.ErrNotFound {
			return ErrNotFound
		}
		if err != nil {
			return unavailable("set latest", err)
		}
		return nil
	})
}

func (s *mongoStore) Close() error {
	s.session.Close()
	return nil
}
