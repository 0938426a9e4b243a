package local_test

import (
	"strings"
	"testing"

	"focuslist/internal/testutil"
)

// =============================================================================
// Task Command Tests (local store)
// =============================================================================

// --- Add Command Tests ---

func TestAddCommandLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout := cli.MustExecute("add", "Buy", "milk")
	testutil.AssertContains(t, stdout, "Added task: Buy milk")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	stdout = cli.MustExecute("list")
	testutil.AssertContains(t, stdout, "#1 [ ] Buy milk (")
	testutil.AssertContains(t, stdout, "1 task remaining")
	testutil.AssertResultCode(t, stdout, testutil.ResultInfoOnly)
}

func TestAddKeepsCreationOrderLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	cli.MustExecute("add", "First")
	cli.MustExecute("add", "Second")
	cli.MustExecute("add", "Third")

	stdout := cli.MustExecute("list")
	first := strings.Index(stdout, "#1 [ ] First")
	second := strings.Index(stdout, "#2 [ ] Second")
	third := strings.Index(stdout, "#3 [ ] Third")
	if first < 0 || second < first || third < second {
		t.Errorf("tasks should be listed in creation order, got:\n%s", stdout)
	}
	testutil.AssertContains(t, stdout, "3 tasks remaining")
}

func TestAddTrimsTextLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	cli.MustExecute("add", "  padded  ")
	stdout := cli.MustExecute("list")
	testutil.AssertContains(t, stdout, "#1 [ ] padded (")
}

// --- Toggle Command Tests ---

func TestToggleCommandLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("add", "Write report")

	stdout := cli.MustExecute("toggle", "#1")
	testutil.AssertContains(t, stdout, "Completed: Write report")

	stdout = cli.MustExecute("list")
	testutil.AssertContains(t, stdout, "#1 [✓] Write report")
	testutil.AssertContains(t, stdout, "0 tasks remaining")

	stdout = cli.MustExecute("toggle", "#1")
	testutil.AssertContains(t, stdout, "Reopened: Write report")
}

func TestToggleByIDLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	var added struct {
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
	}
	cli.ExecuteJSON(&added, "add", "By id")
	if added.Task.ID == "" {
		t.Fatal("add --json should return the task id")
	}

	stdout := cli.MustExecute("toggle", added.Task.ID)
	testutil.AssertContains(t, stdout, "Completed: By id")
}

func TestToggleUnknownTaskLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout, stderr := cli.ExecuteAndFail("toggle", "#3")
	testutil.AssertContains(t, stderr, "task not found: #3")
	testutil.AssertContains(t, stderr, "focuslist list")
	testutil.AssertResultCode(t, stdout, testutil.ResultError)
}

// --- Remove Command Tests ---

func TestRemoveCommandLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("add", "Keep")
	cli.MustExecute("add", "Drop")

	stdout := cli.MustExecute("rm", "#2")
	testutil.AssertContains(t, stdout, "Deleted task: Drop")

	stdout = cli.MustExecute("list")
	testutil.AssertContains(t, stdout, "#1 [ ] Keep")
	testutil.AssertNotContains(t, stdout, "Drop")
}

func TestRemoveConfirmLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("add", "Maybe")

	cli.SetStdin("\n")
	stdout := cli.MustExecute("rm", "#1")
	testutil.AssertContains(t, stdout, "Cancelled")

	cli.SetStdin("yes\n")
	stdout = cli.MustExecute("rm", "#1")
	testutil.AssertContains(t, stdout, "Deleted task: Maybe")

	stdout = cli.MustExecute("list")
	testutil.AssertContains(t, stdout, "No tasks found")
}

// --- JSON Output Tests ---

func TestListJSONLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("add", "One")
	cli.MustExecute("add", "Two")
	cli.MustExecute("toggle", "#1")

	var resp struct {
		Tasks []struct {
			Number    int    `json:"number"`
			ID        string `json:"id"`
			Text      string `json:"text"`
			Completed bool   `json:"completed"`
			Time      string `json:"time"`
		} `json:"tasks"`
		Count     int    `json:"count"`
		Remaining int    `json:"remaining"`
		Result    string `json:"result"`
	}
	cli.ExecuteJSON(&resp, "list")

	if resp.Count != 2 || resp.Remaining != 1 || resp.Result != testutil.ResultInfoOnly {
		t.Fatalf("list JSON = %+v", resp)
	}
	if resp.Tasks[0].Number != 1 || resp.Tasks[0].Text != "One" || !resp.Tasks[0].Completed {
		t.Errorf("first task = %+v", resp.Tasks[0])
	}
	if resp.Tasks[1].Completed || resp.Tasks[1].Time == "" {
		t.Errorf("second task = %+v", resp.Tasks[1])
	}
}

// --- Persistence Tests ---

func TestTasksPersistAcrossRunsLocalCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("add", "Survives restart")

	// Each Execute opens and closes the store file
	stdout := cli.MustExecute("list")
	testutil.AssertContains(t, stdout, "Survives restart")
}

func TestChatSeesLocalTasksCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("add", "Call the bank")

	stdout := cli.MustExecute("chat", "is", "call", "the", "bank", "on", "my", "list?")
	testutil.AssertContains(t, stdout, `Yes, the task "Call the bank" is currently on your pending list.`)
}
