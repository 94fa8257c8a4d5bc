package extract

// Vocabulary holds the word lists used by the pre-filter and validators.
// All entries are matched case-insensitively.
type Vocabulary struct {
	HireKeywords  []string `mapstructure:"hire_keywords"`
	JobKeywords   []string `mapstructure:"job_keywords"`
	Seniority     []string `mapstructure:"seniority"`
	NameDenylist  []string `mapstructure:"name_denylist"`
	TitleDenylist []string `mapstructure:"title_denylist"`
}

// DefaultVocabulary returns the built-in word lists.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		HireKeywords: []string{
			"join", "welcom", "appoint", "hire", "named", "promot", "announc",
			"elevat", "tapped", "new position", "new role", "started as",
			"is now", "now serves",
		},
		JobKeywords: []string{
			"hiring", "job", "career", "position", "opening", "apply", "role",
			"vacanc", "looking for", "seeking",
		},
		Seniority: []string{
			"vice president", "vp", "svp", "evp", "chief", "ceo", "cto", "cfo",
			"coo", "cmo", "cio", "ciso", "cpo", "cro", "president", "director",
			"head", "lead", "principal", "senior", "manager", "executive",
			"partner", "founder", "general counsel", "officer", "chair",
		},
		NameDenylist: []string{
			"team", "member", "members", "football", "season", "coach", "league",
			"welcome", "company", "staff", "board", "department", "group",
			"news", "press", "release", "inc", "llc", "ltd", "corp",
			"corporation", "university", "school", "club", "congratulations",
			"announcing", "meet", "please", "today", "chief", "officer",
			"president", "director", "manager", "senior", "engineering",
			"sales", "marketing", "product", "read", "more", "view", "profile",
			"careers", "linkedin",
		},
		TitleDenylist: []string{
			"careers", "jobs", "apply", "apply now", "open positions",
			"open roles", "news", "blog", "home", "about", "about us",
			"contact", "learn more", "read more", "view all", "all jobs",
			"search", "privacy policy", "cookie policy", "team", "our team",
			"opportunities", "join us", "join our team",
		},
	}
}

func (v Vocabulary) withDefaults() Vocabulary {
	d := DefaultVocabulary()
	if len(v.HireKeywords) == 0 {
		v.HireKeywords = d.HireKeywords
	}
	if len(v.JobKeywords) == 0 {
		v.JobKeywords = d.JobKeywords
	}
	if len(v.Seniority) == 0 {
		v.Seniority = d.Seniority
	}
	if len(v.NameDenylist) == 0 {
		v.NameDenylist = d.NameDenylist
	}
	if len(v.TitleDenylist) == 0 {
		v.TitleDenylist = d.TitleDenylist
	}
	return v
}
