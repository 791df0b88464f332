package tasks

// Board holds tasks grouped into status columns.
type Board struct {
	Columns map[Status][]Task
}

// GroupByStatus builds a board, keeping the input order inside each column.
// Tasks with an unknown status are left off the board.
func GroupByStatus(tasks []Task) Board {
	board := Board{Columns: make(map[Status][]Task, len(Statuses))}
	for _, status := range Statuses {
		board.Columns[status] = []Task{}
	}
	for _, task := range tasks {
		if !task.Status.Valid() {
			continue
		}
		board.Columns[task.Status] = append(board.Columns[task.Status], task)
	}
	return board
}

// Column returns the tasks in status.
func (board Board) Column(status Status) []Task {
	return board.Columns[status]
}

// Clone returns a board that shares no column slices with the receiver.
func (board Board) Clone() Board {
	clone := Board{Columns: make(map[Status][]Task, len(board.Columns))}
	for status, column := range board.Columns {
		clone.Columns[status] = append([]Task(nil), column...)
	}
	return clone
}

// Locate returns the column and index holding taskID.
func (board Board) Locate(taskID int) (Status, int, bool) {
	for _, status := range Statuses {
		for index, task := range board.Columns[status] {
			if task.ID == taskID {
				return status, index, true
			}
		}
	}
	return "", 0, false
}

// Move relocates a task to index within the target column and stamps the new status
// and position on it. It reports false when the task already sits there. The index is
// clamped to the column bounds.
func (board *Board) Move(taskID int, target Status, index int) (Task, bool, error) {
	if !target.Valid() {
		return Task{}, false, ErrUnknownStatus
	}
	source, sourceIndex, found := board.Locate(taskID)
	if !found {
		return Task{}, false, ErrTaskNotFound
	}
	task := board.Columns[source][sourceIndex]

	// Clamp against the target column as it looks once the task is taken out.
	destinationLength := len(board.Columns[target])
	if source == target {
		destinationLength--
	}
	if index < 0 {
		index = 0
	}
	if index > destinationLength {
		index = destinationLength
	}
	if source == target && sourceIndex == index {
		return task, false, nil
	}

	remaining := make([]Task, 0, len(board.Columns[source]))
	remaining = append(remaining, board.Columns[source][:sourceIndex]...)
	remaining = append(remaining, board.Columns[source][sourceIndex+1:]...)
	board.Columns[source] = remaining

	destination := board.Columns[target]
	task.Status = target
	task.Position = index

	updated := make([]Task, 0, len(destination)+1)
	updated = append(updated, destination[:index]...)
	updated = append(updated, task)
	updated = append(updated, destination[index:]...)
	board.Columns[target] = updated
	return task, true, nil
}

// replace swaps in the server's copy of a task wherever it sits.
func (board *Board) replace(task Task) {
	status, index, found := board.Locate(task.ID)
	if !found || status != task.Status {
		return
	}
	board.Columns[status][index] = task
}
