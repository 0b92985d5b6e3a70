package authz

// Default permission templates. Registered into a Registry at startup by the
// bootstrap collaborator; nothing here is a package-level registry.

// TemplateEveryone is the policy of the distinguished root entity: unbounded
// public visibility, self-registration open to anyone, mutation reserved to
// the system identity.
const TemplateEveryone = "everyone"

// AccountTemplates returns the template list for individual accounts, first
// entry is the kind default.
func AccountTemplates() []*Template {
	return []*Template{
		{
			ID:          "standard",
			Label:       "Standard account",
			Description: "Profile visible to everyone; wall open to the account's network.",
			Grants: map[Permission]Grant{
				PermView:        {Role: RolePublic},
				PermEdit:        {Role: RoleOwner},
				PermList:        {Role: RolePublic},
				PermListMembers: {Role: RoleNetwork},
				PermPublish:     {Role: RoleNetwork},
				PermJoin:        {Role: RolePublic},
				PermLeave:       {Role: RoleOwner},
				PermCreate:      {Role: RoleOwner},
				PermDelete:      {Role: RoleOwner},
			},
		},
		{
			ID:          "private",
			Label:       "Private account",
			Description: "Visible only to the account's network; wall restricted to the owner.",
			Grants: map[Permission]Grant{
				PermView:        {Role: RoleNetwork},
				PermEdit:        {Role: RoleOwner},
				PermList:        {Role: RoleNetwork},
				PermListMembers: {Role: RoleOwner},
				PermPublish:     {Role: RoleOwner},
				PermJoin:        {Role: RoleNetwork},
				PermLeave:       {Role: RoleOwner},
				PermCreate:      {Role: RoleOwner},
				PermDelete:      {Role: RoleOwner},
			},
		},
		{
			ID:          TemplateEveryone,
			Label:       "Everyone",
			Description: "Root context: unbounded public visibility, system-managed.",
			Grants: map[Permission]Grant{
				PermView:        {Role: RolePublic},
				PermEdit:        {Role: RoleSystem},
				PermList:        {Role: RolePublic},
				PermListMembers: {Role: RolePublic},
				PermPublish:     {Role: RoleManager},
				PermJoin:        {Role: RolePublic},
				PermLeave:       {Role: RoleSystem},
				PermCreate:      {Role: RolePublic},
				PermDelete:      {Role: RoleSystem},
			},
		},
	}
}

// CommunityTemplates returns the template list for communities, first entry
// is the kind default.
func CommunityTemplates() []*Template {
	return []*Template{
		{
			ID:          "open",
			Label:       "Open community",
			Description: "Anyone can see and join; members publish to the wall.",
			Grants: map[Permission]Grant{
				PermView:        {Role: RolePublic},
				PermEdit:        {Role: RoleOwner},
				PermList:        {Role: RolePublic},
				PermListMembers: {Role: RolePublic},
				PermPublish:     {Role: RoleNetwork},
				PermJoin:        {Role: RolePublic},
				PermLeave:       {Role: RoleNetwork},
				PermCreate:      {Role: RoleNetwork},
				PermDelete:      {Role: RoleOwner},
			},
		},
		{
			ID:          "workgroup",
			Label:       "Workgroup",
			Description: "Visible to its network only; joining is invitation-based.",
			Grants: map[Permission]Grant{
				PermView:        {Role: RoleNetwork},
				PermEdit:        {Role: RoleOwner},
				PermList:        {Role: RoleNetwork},
				PermListMembers: {Role: RoleNetwork},
				PermPublish:     {Role: RoleNetwork},
				PermJoin:        {Role: RoleManager},
				PermLeave:       {Role: RoleNetwork},
				PermCreate:      {Role: RoleNetwork},
				PermDelete:      {Role: RoleOwner},
			},
		},
		{
			ID:          "administrators",
			Label:       "Administrators",
			Description: "The administrative community backing the manager role.",
			Grants: map[Permission]Grant{
				PermView:        {Role: RolePublic},
				PermEdit:        {Role: RoleSystem},
				PermList:        {Role: RolePublic},
				PermListMembers: {Role: RoleManager},
				PermPublish:     {Role: RoleManager},
				PermJoin:        {Role: RoleSystem},
				PermLeave:       {Role: RoleManager},
				PermCreate:      {Role: RoleManager},
				PermDelete:      {Role: RoleSystem},
			},
		},
	}
}

// ContentTemplates returns the template list shared by posts, resources and
// channels, first entry is the kind default. The publish threshold is
// computed from the publisher's kind: content on a community wall is open to
// the community's network, content on an individual wall stays owner-only.
func ContentTemplates() []*Template {
	wallPublish := Grant{Resolver: PublisherKindRole{Community: RoleNetwork, Individual: RoleOwner}}

	return []*Template{
		{
			ID:          "public",
			Label:       "Public",
			Description: "Visible as far as the publisher's own visibility allows.",
			Grants: map[Permission]Grant{
				PermView:        {Role: RolePublic},
				PermEdit:        {Role: RoleOwner},
				PermList:        {Role: RolePublic},
				PermListMembers: {Role: RolePublic},
				PermPublish:     wallPublish,
				PermJoin:        {Role: RolePublic},
				PermLeave:       {Role: RoleOwner},
				PermCreate:      {Role: RoleOwner},
				PermDelete:      {Role: RoleOwner},
			},
		},
		{
			ID:          "network",
			Label:       "Network",
			Description: "Visible to the publisher's network.",
			Grants: map[Permission]Grant{
				PermView:        {Role: RoleNetwork},
				PermEdit:        {Role: RoleOwner},
				PermList:        {Role: RoleNetwork},
				PermListMembers: {Role: RoleNetwork},
				PermPublish:     wallPublish,
				PermJoin:        {Role: RoleNetwork},
				PermLeave:       {Role: RoleOwner},
				PermCreate:      {Role: RoleOwner},
				PermDelete:      {Role: RoleOwner},
			},
		},
		{
			ID:          "private",
			Label:       "Private",
			Description: "Visible to the owner only.",
			Grants: map[Permission]Grant{
				PermView:        {Role: RoleOwner},
				PermEdit:        {Role: RoleOwner},
				PermList:        {Role: RoleOwner},
				PermListMembers: {Role: RoleOwner},
				PermPublish:     {Role: RoleOwner},
				PermJoin:        {Role: RoleOwner},
				PermLeave:       {Role: RoleOwner},
				PermCreate:      {Role: RoleOwner},
				PermDelete:      {Role: RoleOwner},
			},
		},
		{
			ID:            "intranet",
			Label:         "Intranet",
			Description:   "Community-internal content; not usable on an individual wall.",
			CommunityOnly: true,
			Grants: map[Permission]Grant{
				PermView:        {Role: RoleNetwork},
				PermEdit:        {Role: RoleOwner},
				PermList:        {Role: RoleNetwork},
				PermListMembers: {Role: RoleNetwork},
				PermPublish:     {Role: RoleNetwork},
				PermJoin:        {Role: RoleNetwork},
				PermLeave:       {Role: RoleOwner},
				PermCreate:      {Role: RoleNetwork},
				PermDelete:      {Role: RoleOwner},
			},
		},
	}
}

// RegisterDefaults loads every default template list into reg.
func RegisterDefaults(reg *Registry) error {
	for _, t := range AccountTemplates() {
		if err := reg.Register(KindAccount, t); err != nil {
			return err
		}
	}
	for _, t := range CommunityTemplates() {
		if err := reg.Register(KindCommunity, t); err != nil {
			return err
		}
	}
	for _, kind := range []EntityKind{KindPost, KindResource, KindChannel} {
		for _, t := range ContentTemplates() {
			if err := reg.Register(kind, t); err != nil {
				return err
			}
		}
	}
	return nil
}
