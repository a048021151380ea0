package caps

import (
	"context"

	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/content"
	"github.com/dpup/capable/plugins/options"
)

func (r *Resolver) registerPostRules() {
	r.handle(r.editPost, "edit_post", "edit_page")
	r.handle(r.deletePost, "delete_post", "delete_page")
	r.handle(r.readPost, "read_post", "read_page")
	r.handle(r.publishPost, "publish_post")
	r.handle(r.editComment, "edit_comment")
}

func (r *Resolver) editPost(ctx context.Context, req Request) ([]string, error) {
	post, err := r.requestedPost(ctx, req, true)
	if post == nil || err != nil {
		return denied(), err
	}
	pt, ok := r.postType(ctx, req, post)
	if !ok {
		return []string{"edit_others_posts"}, nil
	}
	if !pt.MapMetaCap {
		return []string{pt.Cap.Get(content.CapEditPost)}, nil
	}

	var caps []string
	status := statusBeforeTrash(post)
	if isAuthor(post, req.UserID) {
		if published(status) {
			caps = append(caps, pt.Cap.Get(content.CapEditPublishedPosts))
		} else {
			caps = append(caps, pt.Cap.Get(content.CapEditPosts))
		}
	} else {
		caps = append(caps, pt.Cap.Get(content.CapEditOthersPosts))
		if published(status) {
			caps = append(caps, pt.Cap.Get(content.CapEditPublishedPosts))
		} else if status == content.StatusPrivate {
			caps = append(caps, pt.Cap.Get(content.CapEditPrivatePosts))
		}
	}
	return r.withPrivacyPage(ctx, req, post, caps)
}

func (r *Resolver) deletePost(ctx context.Context, req Request) ([]string, error) {
	post, err := r.requestedPost(ctx, req, false)
	if post == nil || err != nil {
		return denied(), err
	}
	if post.Type == content.TypeRevision {
		return denied(), nil
	}

	for _, key := range []string{options.PageForPosts, options.PageOnFront} {
		id, err := r.options.Int64(ctx, req.Site, key, 0)
		if err != nil {
			return nil, err
		}
		if id != 0 && id == post.ID {
			return []string{"manage_options"}, nil
		}
	}

	pt, ok := r.postType(ctx, req, post)
	if !ok {
		return []string{"edit_others_posts"}, nil
	}
	if !pt.MapMetaCap {
		return []string{pt.Cap.Get(content.CapDeletePost)}, nil
	}

	var caps []string
	status := statusBeforeTrash(post)
	if isAuthor(post, req.UserID) {
		if published(status) {
			caps = append(caps, pt.Cap.Get(content.CapDeletePublishedPosts))
		} else {
			caps = append(caps, pt.Cap.Get(content.CapDeletePosts))
		}
	} else {
		caps = append(caps, pt.Cap.Get(content.CapDeleteOthersPosts))
		if published(status) {
			caps = append(caps, pt.Cap.Get(content.CapDeletePublishedPosts))
		} else if status == content.StatusPrivate {
			caps = append(caps, pt.Cap.Get(content.CapDeletePrivatePosts))
		}
	}
	return r.withPrivacyPage(ctx, req, post, caps)
}

func (r *Resolver) readPost(ctx context.Context, req Request) ([]string, error) {
	post, err := r.requestedPost(ctx, req, true)
	if post == nil || err != nil {
		return denied(), err
	}
	pt, ok := r.postType(ctx, req, post)
	if !ok {
		return []string{"edit_others_posts"}, nil
	}
	if !pt.MapMetaCap {
		return []string{pt.Cap.Get(content.CapReadPost)}, nil
	}

	name, err := r.postStatus(ctx, req.Site, post)
	if err != nil {
		return nil, err
	}
	status, ok := r.content.Status(name)
	if !ok {
		logging.Warnw(ctx, "caps: post status is not registered", "cap", req.Cap, "status", name, "post", post.ID)
		return []string{"edit_others_posts"}, nil
	}

	switch {
	case status.Public:
		return []string{pt.Cap.Get(content.CapRead)}, nil
	case isAuthor(post, req.UserID):
		return []string{pt.Cap.Get(content.CapRead)}, nil
	case status.Private:
		return []string{pt.Cap.Get(content.CapReadPrivatePosts)}, nil
	default:
		return r.mapAs(ctx, req, "edit_post", On(post.ID))
	}
}

func (r *Resolver) publishPost(ctx context.Context, req Request) ([]string, error) {
	post, err := r.requestedPost(ctx, req, false)
	if post == nil || err != nil {
		return denied(), err
	}
	pt, ok := r.postType(ctx, req, post)
	if !ok {
		return []string{"edit_others_posts"}, nil
	}
	return []string{pt.Cap.Get(content.CapPublishPosts)}, nil
}

func (r *Resolver) editComment(ctx context.Context, req Request) ([]string, error) {
	if !requireObject(ctx, req) {
		return denied(), nil
	}
	comment, err := r.content.Comment(ctx, req.Site, req.Args.ObjectID)
	if comment == nil || err != nil {
		return denied(), err
	}
	post, err := r.content.Post(ctx, req.Site, comment.PostID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return r.mapAs(ctx, req, "edit_posts", Args{})
	}
	return r.mapAs(ctx, req, "edit_post", On(post.ID))
}

// requestedPost loads the post named by the request. Revisions are replaced by
// their parent when viaParent is set. A nil post means the request is denied.
func (r *Resolver) requestedPost(ctx context.Context, req Request, viaParent bool) (*content.Post, error) {
	if !requireObject(ctx, req) {
		return nil, nil
	}
	post, err := r.content.Post(ctx, req.Site, req.Args.ObjectID)
	if post == nil || err != nil {
		return nil, err
	}
	if viaParent && post.Type == content.TypeRevision {
		return r.content.Post(ctx, req.Site, post.Parent)
	}
	return post, nil
}

func (r *Resolver) postType(ctx context.Context, req Request, post *content.Post) (*content.PostType, bool) {
	pt, ok := r.content.PostType(post.Type)
	if !ok {
		logging.Warnw(ctx, "caps: post type is not registered", "cap", req.Cap, "postType", post.Type, "post", post.ID)
	}
	return pt, ok
}

// postStatus returns the status used for read checks. Posts with the inherit
// status, such as attachments, take their parent's status; orphans are
// treated as published.
func (r *Resolver) postStatus(ctx context.Context, site int64, post *content.Post) (string, error) {
	if post.Status != content.StatusInherit {
		return post.Status, nil
	}
	if post.Parent == 0 || post.Parent == post.ID {
		return content.StatusPublish, nil
	}
	parent, err := r.content.Post(ctx, site, post.Parent)
	if err != nil {
		return "", err
	}
	if parent == nil {
		return content.StatusPublish, nil
	}
	if parent.Status == content.StatusTrash {
		if s := parent.Meta[content.MetaTrashStatus]; s != "" {
			return s, nil
		}
		return content.StatusPublish, nil
	}
	return parent.Status, nil
}

// withPrivacyPage adds the privacy capabilities when the post is the site's
// privacy policy page.
func (r *Resolver) withPrivacyPage(ctx context.Context, req Request, post *content.Post, caps []string) ([]string, error) {
	id, err := r.options.Int64(ctx, req.Site, options.PrivacyPolicyPage, 0)
	if err != nil {
		return nil, err
	}
	if id == 0 || id != post.ID {
		return caps, nil
	}
	extra, err := r.mapAs(ctx, req, "manage_privacy_options", Args{})
	if err != nil {
		return nil, err
	}
	return append(caps, extra...), nil
}

// statusBeforeTrash returns the status a trashed post had before it was
// trashed, or the current status.
func statusBeforeTrash(post *content.Post) string {
	if post.Status == content.StatusTrash {
		return post.Meta[content.MetaTrashStatus]
	}
	return post.Status
}

func isAuthor(post *content.Post, userID int64) bool {
	return post.Author != 0 && post.Author == userID
}

func published(status string) bool {
	return status == content.StatusPublish || status == content.StatusFuture
}
