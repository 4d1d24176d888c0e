package gitstate

// SwapRunGit replaces the git runner for tests and returns a restore func.
func SwapRunGit(fn func(dir string, args ...string) (string, error)) func() {
	old := runGit
	runGit = fn
	return func() { runGit = old }
}
