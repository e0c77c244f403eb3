// Package playback открывает звуковые файлы и синтезированную речь как
// источники PCM для очередей воспроизведения конференции.
//
// Поддерживаемые источники:
//   - WAV (PCM 8/16/24/32 бит) через github.com/go-audio/wav;
//   - AIFF (PCM 16 бит) через github.com/go-audio/aiff;
//   - MP3 через github.com/hajimehoshi/go-mp3;
//   - Ogg Vorbis через github.com/jfreymuth/oggvorbis;
//   - silence://<мс> тишина заданной длительности;
//   - tone://<частота>[?ms=<мс>&amp=<амплитуда>] синусоидальный тон.
//
// Любой источник сводится к моно и приводится к частоте комнаты.
//
//	opener := playback.NewOpener(playback.Config{SoundsDir: "/var/lib/conferenced/sounds"})
//	src, err := opener.Open(ctx, "conf-alone.wav", 8000)
package playback
