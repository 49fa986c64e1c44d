package policy

// MinRating и MaxRating ограничивают оценку заказа.
const (
	MinRating = 1
	MaxRating = 5
)

// ValidRating сообщает, допустима ли оценка.
func ValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}

// RunningAverage добавляет оценку r к текущему среднему и возвращает новое среднее и число оценок.
func RunningAverage(current *float64, count int64, r int) (float64, int64) {
	if count == 0 || current == nil {
		return float64(r), 1
	}
	return (*current*float64(count) + float64(r)) / float64(count+1), count + 1
}
