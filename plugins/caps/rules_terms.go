package caps

import (
	"context"

	"github.com/dpup/capable/plugins/content"
	"github.com/dpup/capable/plugins/options"
)

func (r *Resolver) registerTermRules() {
	r.handle(r.termCap, "edit_term", "delete_term", "assign_term")
	r.handle(to("manage_categories"),
		"manage_post_tags", "edit_categories", "edit_post_tags", "delete_categories", "delete_post_tags")
	r.handle(to("edit_posts"), "assign_categories", "assign_post_tags")
}

// termCap resolves through the taxonomy's capability map, e.g. edit_term on a
// category becomes edit_categories, which in turn becomes manage_categories.
func (r *Resolver) termCap(ctx context.Context, req Request) ([]string, error) {
	if !requireObject(ctx, req) {
		return denied(), nil
	}
	term, err := r.content.Term(ctx, req.Site, req.Args.ObjectID)
	if term == nil || err != nil {
		return denied(), err
	}
	tax, ok := r.content.Taxonomy(term.Taxonomy)
	if !ok {
		return denied(), nil
	}

	if req.Cap == "delete_term" {
		for _, key := range options.DefaultTermKeys(term.Taxonomy) {
			id, err := r.options.Int64(ctx, req.Site, key, 0)
			if err != nil {
				return nil, err
			}
			if id != 0 && id == term.ID {
				return denied(), nil
			}
		}
	}

	var key string
	switch req.Cap {
	case "edit_term":
		key = content.CapEditTerms
	case "delete_term":
		key = content.CapDeleteTerms
	default:
		key = content.CapAssignTerms
	}
	return r.mapAs(ctx, req, tax.Cap[key], On(term.ID))
}
