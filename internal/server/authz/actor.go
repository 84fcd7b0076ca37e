package authz

import "context"

// Capabilities checked by the changeset service. Settings may name any other
// capability in the registry.
const (
	CapCustomize = "customize"
	CapRead      = "read_changesets"
	CapCreate    = "create_changesets"
	CapEdit      = "edit_changesets"
	CapPublish   = "publish_changesets"
	CapDelete    = "delete_changesets"
)

// Actor is the authenticated principal behind a request.
type Actor struct {
	ID    string
	Roles []string
}

// Anonymous reports whether no principal was authenticated.
func (a Actor) Anonymous() bool {
	return a.ID == ""
}

// Subjects lists the policy subjects the actor is evaluated as.
func (a Actor) Subjects() []string {
	out := make([]string, 0, len(a.Roles)+1)
	if a.ID != "" {
		out = append(out, "user:"+a.ID)
	}
	for _, r := range a.Roles {
		out = append(out, "role:"+r)
	}
	return out
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
