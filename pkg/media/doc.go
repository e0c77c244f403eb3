// Package media содержит примитивы обработки аудио, которые использует движок конференций.
//
// Пакет не управляет сессиями и не знает о конференциях. Он предоставляет
// строительные блоки для плеч вызова и микшера:
//
//   - PCM кадры: размер кадра, энергия, насыщение int16, регулировка громкости
//   - G.711 кодек (μ-law / A-law) для RTP плеч
//   - Линейный ресемплер между частотой плеча и частотой конференции
//   - Прием и генерация DTMF согласно RFC 4733
//   - Буфер переупорядочивания RTP пакетов (jitter buffer)
//   - Типизированные ошибки медиа слоя
//
// # Быстрый старт
//
//	samples := media.SamplesPerFrame(8000, 20*time.Millisecond) // 160
//	frame := make([]int16, samples)
//	energy := media.Energy(frame)
//
//	codec, err := media.CodecForPayloadType(media.PayloadTypePCMU)
//	if err != nil {
//	    return err
//	}
//	payload := codec.Encode(frame)
//
// Все функции обработки работают с моно 16-битным линейным PCM.
package media
