package engine

// User-visible texts. The audience is Russian-speaking; keep these in sync
// with the button captions configured on the chat platform («ГЕНЕРИРУЙ»).
const (
	msgDraftWorking = "✍️ Подбираю рифмы и ритм… дай пару секунд, сейчас будет черновик 🎶"
	msgEditWorking  = "🛠️ Вношу правки в текст… чуть-чуть магии — и пришлю новую версию ✨"

	msgLLMFailedNew  = "⚠️ Не смог понять запрос. Напиши простыми словами: для кого песня и какой вайб (грусть, кач, влюблённость, злость) 🙏"
	msgLLMFailedEdit = "⚠️ Я чуть запутался в правках. Напиши простыми словами, что именно изменить 🙏"

	msgNothingToVoice    = "Мне пока нечего озвучивать 😅 Пришли сначала историю 🙏"
	msgNeedStoryFirst    = "Пришли сначала историю: для кого песня, какой вайб и какие имена ❤️"
	msgGreeting          = "Привет 👋 Для кого песня и какой вайб? Напиши короткую историю ❤️"
	msgAlreadyGenerating = "Я уже собираю для тебя трек 🎧 Дождись результата, как будет готов — сразу скину 🙌"

	msgNudge = "Если всё ок — нажми «ГЕНЕРИРУЙ».\nЕсли хочешь что-то поправить — напиши что именно изменить ❤️"

	msgGenerationStarted = "🎧 Я начал генерацию аудио.\nКак только трек(и) будут готовы — я скину их сюда 🔥"

	msgRestartSlow   = "⏳ Трек долго собирается у провайдера. Перезапускаю генерацию заново — пришлю новый результат как будет готов 🙌"
	msgAbandonSlow   = "⏳ Я трижды пытался дождаться аудио, но провайдер завис. Попробуй снова чуть позже или нажми «ГЕНЕРИРУЙ» ещё раз 🙏"
	msgRestartFailed = "⚠️ Провайдер выдал ошибку, перезапускаю генерацию 🙌"
	msgAbandonFailed = "⚠️ Провайдер трижды вернул ошибку. Попробуй нажать «ГЕНЕРИРУЙ» снова 🙏"
	msgHardError     = "⚠️ Не удалось собрать трек 😞 Попробуй ещё раз позже."
	msgNoLinks       = "⚠️ Музыка сгенерилась, но ссылки не пришли 😬"

	msgTracksReady = "Держи свои песни❤️"

	defaultReminderMessage = "Напоминаю про наш трек 🔔\n" +
		"Если хочешь что-то поправить в тексте — просто напиши сюда.\n" +
		"Если всё нравится — нажми кнопку «ГЕНЕРИРУЙ», и я соберу музыку 🎧"
)

func draftMessage(userViewLyrics string) string {
	return "Твой текст песни готов 🎶\n\n" +
		userViewLyrics +
		"\n\n📝 Если хочешь что-то поправить — просто напиши правки одним сообщением сюда.\n\n" +
		"Если всё ок — нажми кнопку «ГЕНЕРИРУЙ», и я соберу музыку 🎧"
}

func submitFailedMessage(providerName, reason string) string {
	return "⚠️ Я попытался собрать тебе аудиотрек (" + providerName + "), но генерация трижды упала 😞\n" +
		"Причина: " + reason + "\n" +
		"Я попробую ещё раз чуть позже, либо можешь просто нажать «ГЕНЕРИРУЙ» ещё раз 🙏"
}
