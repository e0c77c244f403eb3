package conference

// WildcardID идентификатор отношения, распространяющегося на всех участников
const WildcardID uint32 = 0

// Relationship исключение видимости между участником и другим участником
// (или всеми, если ID == WildcardID).
type Relationship struct {
	ID       uint32 `json:"id"`
	CanHear  bool   `json:"can_hear"`
	CanSpeak bool   `json:"can_speak"`
}

// relationshipList упорядоченный список отношений одного участника
type relationshipList []Relationship

// lookup возвращает отношение к участнику id: сначала точное совпадение,
// затем wildcard.
func (l relationshipList) lookup(id uint32) (Relationship, bool) {
	var wildcard *Relationship
	for i := range l {
		if l[i].ID == id && id != WildcardID {
			return l[i], true
		}
		if l[i].ID == WildcardID && wildcard == nil {
			wildcard = &l[i]
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return Relationship{}, false
}

// set добавляет или заменяет отношение; true, если запись новая.
func (l *relationshipList) set(rel Relationship) bool {
	for i := range *l {
		if (*l)[i].ID == rel.ID {
			(*l)[i] = rel
			return false
		}
	}
	*l = append(*l, rel)
	return true
}

// remove удаляет отношение; true, если запись существовала.
func (l *relationshipList) remove(id uint32) bool {
	for i := range *l {
		if (*l)[i].ID == id {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return true
		}
	}
	return false
}

// excluded решает, исключается ли вклад говорящего из микса слушателя.
// Запрет с любой стороны подавляет вклад.
func excluded(listenerRels relationshipList, listenerID uint32, speakerRels relationshipList, speakerID uint32) bool {
	if rel, ok := listenerRels.lookup(speakerID); ok && !rel.CanHear {
		return true
	}
	if rel, ok := speakerRels.lookup(listenerID); ok && !rel.CanSpeak {
		return true
	}
	return false
}
