package settings

// Builtin returns the site settings every registry starts with.
func Builtin() []Setting {
	return []Setting{
		{ID: "blogname", Kind: KindString, Rules: "max=255", Default: ""},
		{ID: "blogdescription", Kind: KindString, Rules: "max=255", Default: ""},
		{ID: "admin_email", Kind: KindString, Rules: "required,email", Code: "invalid_email", Capability: "manage_options"},
		{ID: "posts_per_page", Kind: KindNumber, Rules: "min=1,max=100", Default: 10},
		{ID: "show_on_front", Kind: KindString, Rules: "oneof=posts page", Default: "posts"},
	}
}

// NewDefaultRegistry returns a registry holding Builtin settings.
func NewDefaultRegistry() *Registry {
	return NewRegistry().MustRegister(Builtin()...)
}
