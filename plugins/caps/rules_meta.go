package caps

import (
	"context"
	"strings"
)

// Object types that carry meta.
const (
	ObjectPost    = "post"
	ObjectComment = "comment"
	ObjectTerm    = "term"
	ObjectUser    = "user"
)

func (r *Resolver) registerMetaRules() {
	for _, obj := range []string{ObjectPost, ObjectComment, ObjectTerm, ObjectUser} {
		h := r.objectMeta(obj)
		r.handle(h, "add_"+obj+"_meta", "edit_"+obj+"_meta", "delete_"+obj+"_meta")
	}
}

// objectMeta returns the rule for changing meta on an object type. Changing
// meta requires editing the object. Protected keys additionally require the
// meta capability itself unless a meta-auth callback allows them.
func (r *Resolver) objectMeta(objectType string) Handler {
	return func(ctx context.Context, req Request) ([]string, error) {
		if !requireObject(ctx, req) {
			return denied(), nil
		}
		subtype, err := r.objectSubtype(ctx, req.Site, objectType, req.Args.ObjectID)
		if subtype == "" || err != nil {
			return denied(), err
		}
		caps, err := r.mapAs(ctx, req, "edit_"+objectType, On(req.Args.ObjectID))
		if err != nil {
			return nil, err
		}
		if req.Args.MetaKey == "" {
			return caps, nil
		}

		allowed := !protectedMeta(req.Args.MetaKey)
		r.mu.RLock()
		fn, ok := r.metaAuth[metaAuthKey(objectType, req.Args.MetaKey, subtype)]
		if !ok {
			fn = r.metaAuth[metaAuthKey(objectType, req.Args.MetaKey, "")]
		}
		r.mu.RUnlock()
		if fn != nil {
			allowed = fn(ctx, allowed, req, caps)
		}
		if !allowed {
			caps = append(caps, req.Cap)
		}
		return caps, nil
	}
}

// objectSubtype returns the post type, taxonomy or object type of an object,
// or "" when the object does not exist.
func (r *Resolver) objectSubtype(ctx context.Context, site int64, objectType string, id int64) (string, error) {
	switch objectType {
	case ObjectPost:
		p, err := r.content.Post(ctx, site, id)
		if p == nil || err != nil {
			return "", err
		}
		return p.Type, nil
	case ObjectComment:
		c, err := r.content.Comment(ctx, site, id)
		if c == nil || err != nil {
			return "", err
		}
		return ObjectComment, nil
	case ObjectTerm:
		t, err := r.content.Term(ctx, site, id)
		if t == nil || err != nil {
			return "", err
		}
		return t.Taxonomy, nil
	case ObjectUser:
		u, err := r.content.User(ctx, id)
		if u == nil || err != nil {
			return "", err
		}
		return ObjectUser, nil
	}
	return "", nil
}

// protectedMeta reports whether a meta key is internal. Internal keys start
// with an underscore.
func protectedMeta(key string) bool {
	return strings.HasPrefix(strings.TrimSpace(key), "_")
}
