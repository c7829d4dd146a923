package domain

type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

type ProgressFunc func(Progress)

func (f ProgressFunc) Report(current, total int, message string) {
	if f == nil {
		return
	}
	f(Progress{Current: current, Total: total, Message: message})
}
