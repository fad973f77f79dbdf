package github

type Commit struct {
	SHA     string        `json:"sha"`
	HTMLURL string        `json:"html_url"`
	Commit  CommitDetails `json:"commit"`
	Author  *User         `json:"author"`
}

type CommitDetails struct {
	Message string       `json:"message"`
	Author  CommitAuthor `json:"author"`
}

type CommitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Date  string `json:"date"`
}

type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// item is the raw record handed to processing: one commit plus the repository it came from.
type item struct {
	Repository string `json:"repository"`
	Commit     Commit `json:"commit"`
}
