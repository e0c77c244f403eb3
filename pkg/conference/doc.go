// Package conference реализует движок микширования многосторонних аудио конференций.
//
// Каждая комната (Conference) имеет собственный цикл микширования, который раз в
// интервал кадра забирает по кадру из входных очередей участников, суммирует их
// в int32 и раздает каждому слушателю персональный микс без его собственного
// вклада и без вкладов, запрещенных отношениями (Relationship).
//
// Каждый участник (Member) обслуживается двумя горутинами:
//   - InputPump читает кадры из плеча, оценивает энергию, ведет детектор речи,
//     AGC и передачу слова, пишет принятое аудио во входную очередь;
//   - OutputPump забирает персональный микс из выходной очереди, смешивает его
//     с воспроизведением участника и обрабатывает DTMF управление.
//
// Порядок блокировок фиксирован и одинаков при входе и выходе участника:
//
//	Conference.mutex -> Member.audioIn -> Member.audioOut -> Member.flagMu -> Conference.memberMu
//
// Пример использования:
//
//	reg, _ := conference.NewRegistry(conference.RegistryConfig{})
//	room, _ := reg.FindOrCreate("test100", "")
//	member, _ := room.Join(ctx, callLeg, conference.JoinOptions{Name: "alice"})
//	<-member.Done()
package conference
