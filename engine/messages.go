package engine

import "strings"

// RenderTemplate substitutes the $(username), $(trackName) and $(artists)
// placeholders in a confirmation template.
func RenderTemplate(tmpl, username, trackName, artists string) string {
	out := strings.ReplaceAll(tmpl, "$(username)", username)
	out = strings.ReplaceAll(out, "$(trackName)", trackName)
	out = strings.ReplaceAll(out, "$(artists)", artists)
	return out
}

// pickTemplate chooses one template using the injected index source so tests
// can pin the selection.
func pickTemplate(templates []string, pick func(n int) int) string {
	if len(templates) == 0 {
		return "$(username) added $(trackName) by $(artists) to the queue!"
	}
	return templates[pick(len(templates))]
}
